package archiver

import (
	"mime"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	// TimestampLayout names archived items; lexical order equals chronological order.
	TimestampLayout = "20060102_150405"
	// LatestName is the pointer entry inside every archive directory.
	LatestName = "latest"
	// FallbackExtension is used when neither content type nor URL reveal one.
	FallbackExtension = ".img"
)

var contentTypeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// GuessExtension picks the archived item extension from the response content
// type, then the URL path suffix, then FallbackExtension.
func GuessExtension(contentType, rawURL string) string {
	if ext, ok := contentTypeExtensions[normalizeContentType(contentType)]; ok {
		return ext
	}
	if ext := urlExtension(rawURL); ext != "" {
		return ext
	}
	return FallbackExtension
}

// ContentTypeForExtension maps an archived item extension back to a MIME type.
func ContentTypeForExtension(ext string) string {
	if ext == "" || ext == FallbackExtension {
		return "application/octet-stream"
	}
	for ct, e := range contentTypeExtensions {
		if e == ext && ct != "image/jpg" {
			return ct
		}
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func normalizeContentType(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func urlExtension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else {
		p, _, _ = strings.Cut(p, "?")
	}
	return path.Ext(p)
}

// FilenameForTimestamp formats ts in UTC as YYYYMMDD_HHMMSS and appends ext.
func FilenameForTimestamp(ts time.Time, ext string) string {
	return ts.UTC().Format(TimestampLayout) + ext
}
