package parser

import (
	"strconv"
	"strings"
)

// Serialize 以 agent 协议格式输出 section，Parse 可以还原出相同的 section
func Serialize(sec *Section) []byte {
	var b strings.Builder
	b.WriteString("<<<")
	b.WriteString(sec.Name)
	if sec.Separator != 0 {
		b.WriteString(":sep(" + strconv.Itoa(int(sec.Separator)) + ")")
	}
	if sec.NoStrip {
		b.WriteString(":nostrip")
	}
	if sec.Encoding != "" {
		b.WriteString(":encoding(" + sec.Encoding + ")")
	}
	if sec.Window != nil {
		b.WriteString(":persist(" + strconv.FormatInt(sec.Window.Until, 10) + ")")
	}
	b.WriteString(">>>\n")

	sep := " "
	if sec.Separator != 0 {
		sep = string(sec.Separator)
	}
	for _, row := range sec.Rows {
		b.WriteString(strings.Join(row, sep))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
