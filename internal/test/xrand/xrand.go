// Package xrand generates random test inputs.
package xrand

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Bytes generates random bytes with length n.
func Bytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Reader.Read(b)
	if err != nil {
		panic(fmt.Sprintf("failed to generate rand bytes: %v", err))
	}
	return b
}

// Token returns a random hex token of 2n characters.
func Token(n int) string {
	return hex.EncodeToString(Bytes(n))
}
