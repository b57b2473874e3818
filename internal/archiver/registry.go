package archiver

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoSources signals that neither a single URL nor a multi-source spec was configured.
var ErrNoSources = errors.New("no sources configured")

// ImagesDirName is the per-source subdirectory holding archived items.
const ImagesDirName = "images"

// SourceConfig is the subset of configuration the registry reads.
type SourceConfig struct {
	// URL and ID describe the single-source form.
	URL string
	ID  string
	// Spec is the multi-source form: "id=url" or bare "url" entries separated by ',' or ';'.
	Spec string
	// StorageRoot holds one directory per source id.
	StorageRoot string
	// StorageDir is the legacy single-source directory; its parent is the root when StorageRoot is empty.
	StorageDir string
	// ScreenshotIDs lists source ids captured through a headless browser.
	ScreenshotIDs []string
}

// Root returns the effective storage root.
func (c SourceConfig) Root() string {
	if strings.TrimSpace(c.StorageRoot) != "" {
		return c.StorageRoot
	}
	if strings.TrimSpace(c.StorageDir) != "" {
		return filepath.Dir(filepath.Clean(c.StorageDir))
	}
	return "."
}

// ResolveSources builds the ordered source list. An empty result means the
// configuration names no source at all.
func ResolveSources(cfg SourceConfig) []Source {
	var sources []Source
	switch {
	case strings.TrimSpace(cfg.Spec) != "":
		sources = parseSpec(cfg.Spec)
	case strings.TrimSpace(cfg.URL) != "":
		rawURL := strings.TrimSpace(cfg.URL)
		id := SlugifyID(strings.TrimSpace(cfg.ID))
		if id == "" {
			id = SlugifyID(hostOf(rawURL))
		}
		if id == "" {
			id = fallbackID(1)
		}
		sources = []Source{{ID: id, URL: rawURL}}
	default:
		return nil
	}

	screenshot := make(map[string]bool, len(cfg.ScreenshotIDs))
	for _, id := range cfg.ScreenshotIDs {
		screenshot[id] = true
	}
	root := cfg.Root()
	for i := range sources {
		sources[i].Dir = filepath.Join(root, sources[i].ID, ImagesDirName)
		sources[i].Mode = ModeHTTP
		if screenshot[sources[i].ID] {
			sources[i].Mode = ModeScreenshot
		}
	}
	return sources
}

func parseSpec(spec string) []Source {
	var sources []Source
	for _, part := range strings.FieldsFunc(spec, func(r rune) bool { return r == ',' || r == ';' }) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var id, rawURL string
		if before, after, found := strings.Cut(part, "="); found && !strings.Contains(before, "://") {
			id = SlugifyID(strings.TrimSpace(before))
			rawURL = strings.TrimSpace(after)
		} else {
			rawURL = part
			id = SlugifyID(hostOf(rawURL))
		}
		if id == "" {
			id = fallbackID(len(sources) + 1)
		}
		sources = append(sources, Source{ID: id, URL: rawURL})
	}
	return sources
}

// SlugifyID keeps [A-Za-z0-9_-] and replaces every other rune with '_'.
func SlugifyID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func hostOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host
	}
	rest := rawURL
	if idx := strings.LastIndex(rest, "//"); idx >= 0 {
		rest = rest[idx+2:]
	}
	host, _, _ := strings.Cut(rest, "/")
	return host
}

func fallbackID(position int) string {
	return fmt.Sprintf("camera_%d", position)
}

// DuplicateIDs reports ids shared by more than one source, in first-seen order.
func DuplicateIDs(sources []Source) []string {
	seen := make(map[string]int, len(sources))
	var dups []string
	for _, s := range sources {
		seen[s.ID]++
		if seen[s.ID] == 2 {
			dups = append(dups, s.ID)
		}
	}
	return dups
}

// EnsureDirs creates every source's archive directory. It is idempotent.
func EnsureDirs(sources []Source) error {
	for _, s := range sources {
		if err := os.MkdirAll(s.Dir, 0o750); err != nil {
			return fmt.Errorf("create archive dir %s: %w", s.Dir, err)
		}
	}
	return nil
}
