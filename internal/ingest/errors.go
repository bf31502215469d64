package ingest

import (
	"mime"
	"strings"
)

// ParseTransferError splits a raw error string from the source into a
// reason code and optional free-text detail. Recognized patterns are
// "reason (detail)" and "reason: detail"; otherwise the whole string is
// the reason. The helper emits reasons like file_too_large, file_not_found,
// read_error and no_local_path.
func ParseTransferError(raw string) (reason, details string) {
	raw = strings.TrimSpace(raw)

	if i := strings.Index(raw, " ("); i >= 0 && strings.HasSuffix(raw, ")") {
		return raw[:i], raw[i+2 : len(raw)-1]
	}
	if i := strings.Index(raw, ": "); i >= 0 {
		return raw[:i], raw[i+2:]
	}
	return raw, ""
}

// Common attachment types get a fixed extension so file names stay stable
// across platforms and mime table contents.
var wellKnownExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/heic":      ".heic",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"audio/mpeg":      ".mp3",
	"audio/amr":       ".amr",
	"application/pdf": ".pdf",
	"text/vcard":      ".vcf",
}

// extensionForMime derives a file extension from a declared MIME type,
// falling back to no extension.
func extensionForMime(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	if ext, ok := wellKnownExtensions[mimeType]; ok {
		return ext
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

var guidSanitizer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")

// sanitizeGUID makes a source-assigned guid safe to use as a file name.
func sanitizeGUID(guid string) string {
	return guidSanitizer.Replace(guid)
}
