package lwc

import "strings"

const hexDigits = "0123456789abcdef"

// EscapeBytes renders data for logging. Printable ASCII is kept as is and
// every other byte becomes a four character \xHH escape.
func EscapeBytes(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
			continue
		}
		b.WriteString(`\x`)
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}
