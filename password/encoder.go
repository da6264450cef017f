package password

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
	"golang.org/x/text/encoding/unicode"
)

// SaltLength is the number of random bytes behind every generated salt.
const SaltLength = 16

// Algorithm names a credential digest.
type Algorithm string

const (
	SHA1       Algorithm = "sha1"
	SHA256     Algorithm = "sha256"
	SHA384     Algorithm = "sha384"
	SHA512     Algorithm = "sha512"
	SHA3_256   Algorithm = "sha3-256"
	BLAKE2b256 Algorithm = "blake2b-256"
	Argon2ID   Algorithm = "argon2id"
)

// DefaultAlgorithm is used when Config.Algorithm is empty.
const DefaultAlgorithm = SHA256

var (
	// ErrUnsupportedAlgorithm is returned by NewEncoder for unknown algorithm names.
	ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")
	// ErrInvalidSalt is returned when a stored salt is not valid base64.
	ErrInvalidSalt = errors.New("invalid salt encoding")
	// ErrInvalidUTF8 is returned for secrets that are not valid UTF-8. The
	// UTF-16 conversion would otherwise fold distinct byte strings together.
	ErrInvalidUTF8 = errors.New("secret is not valid UTF-8")
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func utf16Secret(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, ErrInvalidUTF8
	}
	secret, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode secret: %w", err)
	}
	return secret, nil
}

// Config selects the digest used by an [Encoder].
type Config struct {
	Algorithm Algorithm
	Argon2    Argon2Config
}

// Encoder turns (password, salt) pairs into stored credential hashes.
//
// An Encoder is immutable and safe for concurrent use.
type Encoder struct {
	algorithm Algorithm
	digest    func() (hash.Hash, error)
	argon2    *argon2Hasher
}

// NewEncoder validates cfg and returns an encoder for its algorithm.
func NewEncoder(cfg Config) (*Encoder, error) {
	algorithm := Algorithm(strings.ToLower(strings.TrimSpace(string(cfg.Algorithm))))
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}

	e := &Encoder{algorithm: algorithm}
	switch algorithm {
	case SHA1:
		e.digest = stdDigest(sha1.New)
	case SHA256:
		e.digest = stdDigest(sha256.New)
	case SHA384:
		e.digest = stdDigest(sha512.New384)
	case SHA512:
		e.digest = stdDigest(sha512.New)
	case SHA3_256:
		e.digest = stdDigest(sha3.New256)
	case BLAKE2b256:
		e.digest = func() (hash.Hash, error) { return blake2b.New256(nil) }
	case Argon2ID:
		params := cfg.Argon2
		if params == (Argon2Config{}) {
			params = DefaultArgon2Config()
		}
		h, err := newArgon2Hasher(params)
		if err != nil {
			return nil, err
		}
		e.argon2 = h
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, cfg.Algorithm)
	}

	return e, nil
}

func stdDigest(fn func() hash.Hash) func() (hash.Hash, error) {
	return func() (hash.Hash, error) { return fn(), nil }
}

// Algorithm reports the digest this encoder produces.
func (e *Encoder) Algorithm() Algorithm {
	return e.algorithm
}

// Encode hashes password with the base64 salt. The same inputs always produce
// the same output.
func (e *Encoder) Encode(password, salt string) (string, error) {
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return "", ErrInvalidSalt
	}
	secret, err := utf16Secret(password)
	if err != nil {
		return "", err
	}

	if e.argon2 != nil {
		return e.argon2.encode(secret, saltBytes), nil
	}

	h, err := e.digest()
	if err != nil {
		return "", err
	}
	h.Write(saltBytes)
	h.Write(secret)

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether password with salt encodes to stored. Malformed
// inputs verify as false.
func (e *Encoder) Verify(password, salt, stored string) bool {
	if stored == "" {
		return false
	}

	if e.argon2 != nil && strings.HasPrefix(stored, "$"+argon2ID+"$") {
		secret, err := utf16Secret(password)
		if err != nil {
			return false
		}
		ok, err := e.argon2.verify(secret, stored)
		return err == nil && ok
	}

	computed, err := e.Encode(password, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}

// NeedsUpgrade reports whether stored was produced with weaker argon2id
// parameters than the encoder's current ones. Other algorithms never upgrade.
func (e *Encoder) NeedsUpgrade(stored string) bool {
	if e.argon2 == nil {
		return false
	}
	upgrade, err := e.argon2.needsUpgrade(stored)
	return err == nil && upgrade
}

// GenerateSalt returns SaltLength cryptographically random bytes, base64 encoded.
func GenerateSalt() (string, error) {
	buf := make([]byte, SaltLength)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
