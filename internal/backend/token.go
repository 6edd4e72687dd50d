package backend

import (
	"crypto/rand"
	"encoding/hex"
)

// tokenBytes gives the auth token 256 bits of entropy.
const tokenBytes = 32

func randomToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
