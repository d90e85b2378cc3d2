package golang

import (
	"bytes"
	"go/format"
	"io"
	"strings"
	"unicode"
)

type formatter struct {
	w   io.Writer
	buf bytes.Buffer
}

func (f *formatter) flush() error {
	src, err := format.Source(f.buf.Bytes())
	if err != nil {
		// Emit the unformatted source so that the failure can be inspected.
		f.w.Write(f.buf.Bytes())
		return err
	}
	_, err = f.w.Write(src)
	return err
}

func (f *formatter) Write(b []byte) (int, error) {
	return f.buf.Write(b)
}

func unexportName(name string) string {
	runes := []rune(name)
	if len(runes) == 0 || !unicode.IsUpper(runes[0]) {
		return name
	}
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

func exportName(name string) string {
	runes := []rune(name)
	if len(runes) == 0 || unicode.IsUpper(runes[0]) {
		return name
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// identName replaces every rune that cannot appear in a Go identifier with an underscore.
func identName(name string) string {
	if name == "" {
		return ""
	}

	var sb strings.Builder
	for i, r := range name {
		if !unicode.IsLetter(r) && r != '_' && (i == 0 || !unicode.IsDigit(r)) {
			sb.WriteRune('_')
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
