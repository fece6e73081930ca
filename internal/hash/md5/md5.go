// Package md5 fingerprints artifacts and derives page key prefixes.
package md5

import (
	"crypto/md5" //nolint:gosec // content addressing, not integrity
	"encoding/hex"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

// Fingerprinter implements crawler.Fingerprinter using MD5.
type Fingerprinter struct{}

// New returns an MD5 fingerprinter.
func New() *Fingerprinter {
	return &Fingerprinter{}
}

// Fingerprint returns the lowercase hex digest and byte length of content.
func (Fingerprinter) Fingerprint(content []byte) crawler.ContentInfo {
	return crawler.ContentInfo{Hash: Hex(content), Length: len(content)}
}

// Hex returns the lowercase hex MD5 digest of data.
func Hex(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // content addressing, not integrity
	return hex.EncodeToString(sum[:])
}
