package llm

import (
	"fmt"
	"strings"
)

var (
	xmlEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	xmlUnescaper = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")
)

// supportedFileTypes lists non text/* MIME types that are inlined
var supportedFileTypes = map[string]bool{
	"application/javascript": true,
	"application/json":       true,
	"application/xml":        true,
}

// EscapeXML escapes the five XML special characters
func EscapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// UnescapeXML reverses EscapeXML
func UnescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}

// IsSupportedFileType reports whether a file with the given MIME type is
// inlined into the prompt.
func IsSupportedFileType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/") || supportedFileTypes[mimeType]
}

// WrapFile renders an uploaded file as a <file> block with every field escaped
func WrapFile(name, mimeType, content string) string {
	return fmt.Sprintf(`<file name="%s" type="%s">%s</file>`, EscapeXML(name), EscapeXML(mimeType), EscapeXML(content))
}

// InlineFiles appends each file block to text on its own line
func InlineFiles(text string, files []File) string {
	var b strings.Builder
	b.WriteString(text)
	for _, f := range files {
		b.WriteByte('\n')
		b.WriteString(WrapFile(f.Name, f.MimeType, f.Content))
	}
	return b.String()
}

// File is an attachment whose content is inlined into a human turn
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
	Content  string `json:"content,omitempty"`
}
