package httpproto

import "strings"

// mimeBySuffix es la tabla estática extensión → Content-type.
var mimeBySuffix = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
}

// mimeForPath deriva el Content-type a partir de la extensión del
// archivo, por defecto text/plain.
func mimeForPath(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return "text/plain"
	}
	if t, ok := mimeBySuffix[path[idx:]]; ok {
		return t
	}
	return "text/plain"
}
