package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/cespare/xxhash/v2"
)

// HashURL creates a SHA256 hash of a URL string.
// This is useful for creating consistent, safe keys for Redis.
func HashURL(rawURL string) string {
	h := sha256.New()
	h.Write([]byte(rawURL))
	return hex.EncodeToString(h.Sum(nil))
}

// ShortHash returns the first n hex digits of the xxhash64 of s (n is clamped to 1..16).
func ShortHash(s string, n int) string {
	sum := fmt.Sprintf("%016x", xxhash.Sum64String(s))
	if n <= 0 || n > len(sum) {
		return sum
	}
	return sum[:n]
}

// ToAbsoluteURL resolves a possibly relative reference against base.
func ToAbsoluteURL(base *url.URL, relative string) (*url.URL, error) {
	relURL, err := url.Parse(relative)
	if err != nil {
		return nil, err
	}
	return base.ResolveReference(relURL), nil
}
