package store

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
)

// BlobHash returns the git blob hash of content, the same value the hosting
// API reports as a file's sha. Local backends use it as the version token.
func BlobHash(content []byte) string {
	h := sha1.New()
	h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
