package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "checker", "cyan", "1.0.0")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, ColorCyan))
	assert.Contains(t, out, ColorReset)
	assert.Contains(t, out, "checker version 1.0.0")
}

func TestColorCodeFallsBackToReset(t *testing.T) {
	assert.Equal(t, ColorReset, colorCode("purple"))
	assert.Equal(t, ColorBlue, colorCode("blue"))
}
