package widget

import (
	"path"
	"strings"
)

// DefaultMIMEType is used for assets whose extension is not in the table.
const DefaultMIMEType = "application/octet-stream"

var mimeTypes = map[string]string{
	".js":    "application/javascript",
	".mjs":   "application/javascript",
	".css":   "text/css",
	".html":  "text/html",
	".htm":   "text/html",
	".json":  "application/json",
	".map":   "application/json",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".txt":   "text/plain",
	".wasm":  "application/wasm",
}

// MIMETypeFor classifies an asset by its file extension. The table is fixed
// so the result does not depend on the host's mime database.
func MIMETypeFor(name string) string {
	if t, ok := mimeTypes[strings.ToLower(path.Ext(name))]; ok {
		return t
	}
	return DefaultMIMEType
}
