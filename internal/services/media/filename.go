package media

import (
	"mime"
	"strings"
	"unicode"
)

const fallbackFilename = "download"

// SanitizeTitle keeps letters, digits, underscores and whitespace exactly
// as they appear. Everything else is dropped.
func SanitizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// Filename builds the attachment name for title and kind.
func Filename(title string, kind MediaKind) string {
	name := SanitizeTitle(title)
	if strings.TrimSpace(name) == "" {
		name = fallbackFilename
	}
	return name + "." + kind.Extension()
}

// ContentDisposition renders an attachment header for filename. Non-ASCII
// names are emitted in RFC 2231 form.
func ContentDisposition(filename string) string {
	if header := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); header != "" {
		return header
	}
	return `attachment; filename="` + fallbackFilename + `"`
}
