package api

import (
	"compress/gzip"
	"io"
	"testing"
)

func newGzipWriter(w io.Writer) *gzip.Writer { return gzip.NewWriter(w) }

func TestHasGzipEncoding(t *testing.T) {
	cases := map[string]bool{
		"":              false,
		"gzip":          true,
		"br, GZIP":      true,
		"deflate":       false,
		" gzip , br":    true,
		"x-gzip-custom": false,
	}
	for header, want := range cases {
		if got := hasGzipEncoding(header); got != want {
			t.Fatalf("hasGzipEncoding(%q) = %v, want %v", header, got, want)
		}
	}
}
