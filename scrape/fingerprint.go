package scrape

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// Fingerprint identifies a request for dedup and caching: the SHA-256 of
// the target, the params in key order, and the preferred source.
func Fingerprint(target string, params map[string]string, preferred string) string {
	v := url.Values{}
	for k, p := range params {
		v.Set(k, p)
	}
	h := sha256.New()
	h.Write([]byte(target))
	h.Write([]byte{0})
	h.Write([]byte(v.Encode()))
	h.Write([]byte{0})
	h.Write([]byte(preferred))
	return hex.EncodeToString(h.Sum(nil))
}
