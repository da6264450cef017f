package internal

import (
	"crypto/rand"
	"encoding/base32"
)

// SessionIDLength is the length of ids returned by NewSessionID.
const SessionIDLength = 24

const sessionIDAlphabet = "abcdefghijklmnopqrstuvwxyz012345"

// 15 random bytes encode to exactly 24 characters without padding.
var sessionIDEncoding = base32.NewEncoding(sessionIDAlphabet).WithPadding(base32.NoPadding)

// NewSessionID returns 120 random bits as a lowercase, cookie-safe id.
func NewSessionID() (string, error) {
	var raw [15]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return sessionIDEncoding.EncodeToString(raw[:]), nil
}
