package stream

import (
	"path"
	"strings"
)

// mimeTypes maps video file extensions to their content types. Files
// with an unknown extension are served as mp4, which every player we
// care about will at least attempt.
var mimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".asf":  "video/x-ms-asf",
	".flv":  "video/x-flv",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".3gp":  "video/3gpp",
	".ts":   "video/mp2t",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".ogv":  "video/ogg",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// ContentTypeFor returns the content type to serve a file under.
func ContentTypeFor(filePath string) string {
	if ct, ok := mimeTypes[strings.ToLower(path.Ext(filePath))]; ok {
		return ct
	}
	return "video/mp4"
}

// CacheControlFor returns the cache policy for a served file. Media
// bytes are immutable once converted, so they cache aggressively;
// anything manifest-like must always revalidate.
func CacheControlFor(filePath string) string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".m3u8", ".mpd":
		return "no-cache, no-store, must-revalidate"
	default:
		return "public, max-age=31536000"
	}
}
