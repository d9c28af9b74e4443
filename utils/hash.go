package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// HashText returns a SHA256 hex digest of text.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// HashBytes returns a SHA256 hex digest of raw content such as an image.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// TupleKey hashes an ordered tuple of identifiers into a fixed-width key.
// Parts are length-prefixed so ("ab","c") and ("a","bc") differ.
func TupleKey(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return HashText(b.String())
}
