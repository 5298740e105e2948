package parser

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultEncoding 行解码失败时的回退编码
const DefaultEncoding = "latin-1"

var aliases = map[string]encoding.Encoding{
	"latin-1":   charmap.ISO8859_1,
	"latin1":    charmap.ISO8859_1,
	"iso8859-1": charmap.ISO8859_1,
	"cp1252":    charmap.Windows1252,
	"cp437":     charmap.CodePage437,
	"cp850":     charmap.CodePage850,
}

func lookupEncoding(name string) encoding.Encoding {
	n := strings.ToLower(strings.TrimSpace(name))
	if enc, ok := aliases[n]; ok {
		return enc
	}
	if enc, err := htmlindex.Get(n); err == nil {
		return enc
	}
	if enc, err := ianaindex.IANA.Encoding(n); err == nil && enc != nil {
		return enc
	}
	return nil
}

// decodeLine 按 section 指定编码解码；未指定时要求合法 UTF-8，否则回退到 fallback。
// 不会因为坏字节失败。
func decodeLine(line, enc, fallback string) string {
	if enc != "" {
		if e := lookupEncoding(enc); e != nil {
			if s, err := e.NewDecoder().String(line); err == nil {
				return s
			}
		}
	}
	if utf8.ValidString(line) {
		return line
	}
	if e := lookupEncoding(fallback); e != nil {
		if s, err := e.NewDecoder().String(line); err == nil {
			return s
		}
	}
	return strings.ToValidUTF8(line, "�")
}
