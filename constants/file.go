package constants

import (
	"mime"
	"strings"
)

// Format is the extraction strategy chosen for a file.
type Format string

const (
	PDF     Format = "PDF"
	DOCX    Format = "DOCX"
	RTF     Format = "RTF"
	TXT     Format = "TXT"
	UNKNOWN Format = "UNKNOWN"
)

const (
	MimePDF   = "application/pdf"
	MimeText  = "text/plain"
	MimeRTF   = "application/rtf"
	MimeRTFX  = "text/rtf"
	MimeDOCX  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeOctet = "application/octet-stream"
)

const (
	DefaultMaxFileSize  int64 = 50 << 20
	DefaultMaxBatchSize       = 10
)

// DefaultAllowedMimeTypes holds the mime types accepted by the validator.
var DefaultAllowedMimeTypes = []string{MimePDF, MimeText, MimeRTF, MimeRTFX, MimeDOCX}

// AllowedExtensions holds the default extensions for directory discovery.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"txt":  {},
	"rtf":  {},
	"docx": {},
}

var extMime = map[string]string{
	"pdf":  MimePDF,
	"txt":  MimeText,
	"text": MimeText,
	"md":   MimeText,
	"rtf":  MimeRTF,
	"docx": MimeDOCX,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat picks the extraction strategy for an extension.
func MapExtToFormat(ext string) Format {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "docx":
		return DOCX
	case "rtf":
		return RTF
	case "txt", "text", "md":
		return TXT
	default:
		return UNKNOWN
	}
}

// MimeTypeForExt returns the mime type the client reports for an extension.
func MimeTypeForExt(ext string) string {
	ext = NormalizeExt(ext)
	if mt, ok := extMime[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension("." + ext); mt != "" {
		return BaseMimeType(mt)
	}
	return MimeOctet
}

// BaseMimeType strips parameters such as "; charset=utf-8".
func BaseMimeType(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
