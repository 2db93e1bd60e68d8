package utils

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// UploadIDLength is the fixed length of every upload identifier
const UploadIDLength = 16

const alnumTable = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// NewUploadID returns a 16 character alphanumeric token.
// It is derived from a random UUID with separators stripped. When the secure
// random source fails it falls back to a pseudo-random generator.
func NewUploadID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return randAlnum(UploadIDLength)
	}
	return strings.ReplaceAll(id.String(), "-", "")[:UploadIDLength]
}

// IsUploadID reports whether s has the shape of an upload identifier
func IsUploadID(s string) bool {
	if len(s) != UploadIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAlnum(s[i]) {
			return false
		}
	}
	return true
}

func randAlnum(length int) string {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = alnumTable[rand.IntN(len(alnumTable))]
	}
	return string(buf)
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
