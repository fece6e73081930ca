package md5

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

func TestFingerprint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want crawler.ContentInfo
	}{
		{name: "empty", in: "", want: crawler.ContentInfo{Hash: "d41d8cd98f00b204e9800998ecf8427e", Length: 0}},
		{name: "ascii", in: "hello world", want: crawler.ContentInfo{Hash: "5eb63bbbe01eeed093cb22bb8f5acdc3", Length: 11}},
		{name: "multibyte counts bytes", in: "héllo", want: crawler.ContentInfo{Hash: Hex([]byte("héllo")), Length: 6}},
		{name: "html page", in: "<html><body>hi</body></html>", want: crawler.ContentInfo{Hash: Hex([]byte("<html><body>hi</body></html>")), Length: 28}},
	}

	f := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := f.Fingerprint([]byte(tt.in))
			assert.Equal(t, tt.want, got)
			assert.Len(t, got.Hash, 32)
			assert.Equal(t, got, f.Fingerprint([]byte(tt.in)))
		})
	}
}
