package password

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const (
	alphanumerics = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	punctuations  = "!@#$%^&*()_-+=[{]};:>|./?"
	maxGenerated  = 128
)

// GeneratePassword returns a random password of length characters containing
// at least minNonAlphanumeric punctuation characters.
func GeneratePassword(length, minNonAlphanumeric int) (string, error) {
	if length < 1 || length > maxGenerated {
		return "", errors.New("password length must be between 1 and 128")
	}
	if minNonAlphanumeric < 0 || minNonAlphanumeric > length {
		return "", errors.New("non-alphanumeric count must be between 0 and length")
	}

	for {
		pw, err := generateCandidate(length, minNonAlphanumeric)
		if err != nil {
			return "", err
		}
		// "&#" would read as a character reference when echoed into markup.
		if !strings.Contains(pw, "&#") {
			return pw, nil
		}
	}
}

func generateCandidate(length, minNonAlphanumeric int) (string, error) {
	charset := alphanumerics + punctuations
	out := make([]byte, length)
	nonAlnum := 0

	for i := range out {
		c, err := randomByte(charset)
		if err != nil {
			return "", err
		}
		if strings.IndexByte(punctuations, c) >= 0 {
			nonAlnum++
		}
		out[i] = c
	}

	for nonAlnum < minNonAlphanumeric {
		pos, err := randomIndex(length)
		if err != nil {
			return "", err
		}
		if strings.IndexByte(punctuations, out[pos]) >= 0 {
			continue
		}
		c, err := randomByte(punctuations)
		if err != nil {
			return "", err
		}
		out[pos] = c
		nonAlnum++
	}

	return string(out), nil
}

func randomByte(charset string) (byte, error) {
	i, err := randomIndex(len(charset))
	if err != nil {
		return 0, err
	}
	return charset[i], nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
