package archiver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RetentionLimits are the two independent pruning rules; zero disables a rule.
type RetentionLimits struct {
	MaxFiles   int
	MaxAgeDays int
}

// Enabled reports whether any rule is active.
func (l RetentionLimits) Enabled() bool {
	return l.MaxFiles > 0 || l.MaxAgeDays > 0
}

// Sweeper deletes archived items that violate the retention limits.
type Sweeper struct {
	limits RetentionLimits
	now    func() time.Time
	logger *zap.Logger
}

// NewSweeper builds a Sweeper. clock supplies the reference time for the age rule.
func NewSweeper(limits RetentionLimits, clock Clock, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &Sweeper{limits: limits, now: now, logger: logger}
}

// Limits returns the configured limits.
func (s *Sweeper) Limits() RetentionLimits {
	return s.limits
}

// Sweep applies the count rule and then the age rule to the regular files in
// dir, excluding latest and dotfiles. Files sort by name, which is
// chronological for the archive naming scheme. A file whose modification time
// equals the age cutoff is kept. Individual deletion failures are logged and
// counted; only a failure to list dir is returned.
func (s *Sweeper) Sweep(dir string) (SweepResult, error) {
	var result SweepResult
	if !s.limits.Enabled() {
		return result, nil
	}
	files, err := eligibleFiles(dir)
	if err != nil {
		return result, err
	}
	result.Eligible = len(files)
	removed := make(map[string]bool)

	if s.limits.MaxFiles > 0 && len(files) > s.limits.MaxFiles {
		for _, entry := range files[:len(files)-s.limits.MaxFiles] {
			if s.remove(dir, entry.Name(), "count", &result) {
				result.RemovedCount++
				removed[entry.Name()] = true
			}
		}
	}

	if s.limits.MaxAgeDays > 0 {
		cutoff := s.now().Add(-time.Duration(s.limits.MaxAgeDays) * 24 * time.Hour)
		for _, entry := range files {
			if removed[entry.Name()] {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				result.Failures++
				s.logger.Warn("failed to stat archived item",
					zap.String("dir", dir),
					zap.String("file", entry.Name()),
					zap.Error(err),
				)
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			if s.remove(dir, entry.Name(), "age", &result) {
				result.RemovedByAge++
			}
		}
	}
	return result, nil
}

func (s *Sweeper) remove(dir, name, rule string, result *SweepResult) bool {
	if err := os.Remove(filepath.Join(dir, name)); err != nil {
		result.Failures++
		s.logger.Warn("failed to remove archived item",
			zap.String("dir", dir),
			zap.String("file", name),
			zap.String("rule", rule),
			zap.Error(err),
		)
		return false
	}
	result.RemovedNames = append(result.RemovedNames, name)
	s.logger.Info("removed archived item",
		zap.String("dir", dir),
		zap.String("file", name),
		zap.String("rule", rule),
	)
	return true
}

func eligibleFiles(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list archive dir %s: %w", dir, err)
	}
	files := make([]os.DirEntry, 0, len(entries))
	for _, entry := range entries {
		// Dotfiles are in-flight or abandoned temp files from the writer.
		if entry.Name() == LatestName || strings.HasPrefix(entry.Name(), ".") || !entry.Type().IsRegular() {
			continue
		}
		files = append(files, entry)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
	return files, nil
}
