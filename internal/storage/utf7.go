package storage

import (
	"encoding/base64"
	"strings"
	"unicode/utf16"
)

// encodeUTF7 encodes s as RFC 2152 UTF-7, the encoding the storage protocol
// mandates for proposed filenames. Printable ASCII passes through, '+'
// escapes to "+-", and everything else becomes modified base64 over UTF-16
// between '+' and '-'.
func encodeUTF7(s string) string {
	var b strings.Builder
	var pending []rune
	flush := func() {
		if len(pending) == 0 {
			return
		}
		b.WriteByte('+')
		b.WriteString(utf7Base64(pending))
		b.WriteByte('-')
		pending = nil
	}

	for _, r := range s {
		switch {
		case r == '+':
			flush()
			b.WriteString("+-")
		case r >= 0x20 && r <= 0x7e:
			flush()
			b.WriteRune(r)
		default:
			pending = append(pending, r)
		}
	}
	flush()
	return b.String()
}

// utf7Base64 encodes runes as big-endian UTF-16 in base64 without padding.
func utf7Base64(runes []rune) string {
	units := utf16.Encode(runes)
	raw := make([]byte, 0, len(units)*2)
	for _, u := range units {
		raw = append(raw, byte(u>>8), byte(u))
	}
	return base64.StdEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)
}
