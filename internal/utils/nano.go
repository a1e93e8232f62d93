package utils

import (
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const nanoidAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NanoidSize is the length of session, submission and handle ids
var NanoidSize = 32

func NanoID() string {
	return NanoIDSize(NanoidSize)
}

func NanoIDSize(size int) string {
	if size <= 0 {
		size = NanoidSize
	}

	return gonanoid.MustGenerate(nanoidAlphabet, size)
}

// IsNanoID reports whether s has the shape of an id returned by NanoID. Ids
// become storage key segments, so nothing else may pass for one.
func IsNanoID(s string) bool {
	if len(s) != NanoidSize {
		return false
	}

	for _, r := range s {
		if !strings.ContainsRune(nanoidAlphabet, r) {
			return false
		}
	}

	return true
}
