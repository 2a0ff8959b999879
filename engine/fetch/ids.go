package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

const idLen = 16

// RequestID identifies a logical request independent of its response.
func RequestID(method, url, body string) string {
	return shortHash([]byte(method + "\n" + url + "\n" + body))
}

// ContentID addresses a response body. HTML is canonicalized first so
// volatile markup does not change the id.
func ContentID(kind Kind, body []byte) string {
	if kind == KindHTML {
		body = CanonicalHTML(body)
	}
	return shortHash(body)
}

func shortHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:idLen]
}

func hashID(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))[:idLen]
}
