package telemetry

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// DefaultMaxBodySize is the default response-body fetch ceiling (5 MB).
const DefaultMaxBodySize = 5 * 1024 * 1024

// skipMimePrefixes are non-text response types that are never fetched
// unless fetchAllBodies is set.
var skipMimePrefixes = []string{"image/", "font/", "video/", "audio/"}
var skipMimeExact = map[string]bool{"text/css": true}

// skipExtensions are URL suffixes skipped by default even when the MIME
// type alone wouldn't disqualify the response (e.g. a CDN serving
// application/octet-stream for a .woff2).
var skipExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".bmp",
	".woff", ".woff2", ".ttf", ".otf", ".eot",
	".mp4", ".webm", ".mp3", ".wav", ".ogg", ".avi", ".mov",
	".css",
}

// BodyDecision is the outcome of deciding whether to fetch a response body.
type BodyDecision struct {
	Fetch      bool
	SkipReason string // non-empty iff Fetch is false and a literal marker should be recorded
}

// DecideBody implements spec §4.2's response-body handling precedence.
func DecideBody(fetchAllBodies bool, mimeType, requestURL string, encodedDataLength int64, maxBodySize int64, includeOverride bool) BodyDecision {
	if fetchAllBodies {
		return BodyDecision{Fetch: true}
	}

	if isSkippedMimeType(mimeType) {
		return BodyDecision{SkipReason: "Non-text response type"}
	}

	if !includeOverride && hasSkipExtension(requestURL) {
		return BodyDecision{SkipReason: "Non-text response type"}
	}

	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	// A negative or absent encodedDataLength is treated as 0 (spec §9 open
	// question): never skip on size alone in that case.
	if encodedDataLength > 0 && encodedDataLength > maxBodySize {
		return BodyDecision{SkipReason: fmt.Sprintf("Response too large (%d > %d)", encodedDataLength, maxBodySize)}
	}

	return BodyDecision{Fetch: true}
}

// SkipMarker formats the literal marker recorded in place of a fetched body.
func SkipMarker(reason string) string {
	return fmt.Sprintf("[SKIPPED: %s]", reason)
}

func isSkippedMimeType(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	if idx := strings.Index(mt, ";"); idx != -1 {
		mt = strings.TrimSpace(mt[:idx])
	}
	if skipMimeExact[mt] {
		return true
	}
	for _, prefix := range skipMimePrefixes {
		if strings.HasPrefix(mt, prefix) {
			return true
		}
	}
	return false
}

func hasSkipExtension(requestURL string) bool {
	u, err := url.Parse(requestURL)
	p := requestURL
	if err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	for _, se := range skipExtensions {
		if ext == se {
			return true
		}
	}
	return false
}
