package password

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2ID = "argon2id"

// Lower bounds enforced on both configuration and stored hashes.
const (
	minMemoryKB  = 8 * 1024
	minKeyLength = 16
)

var errMalformedPHC = errors.New("malformed argon2id hash")

// Argon2Config holds the cost parameters used when the encoder runs argon2id.
type Argon2Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	KeyLength   uint32
}

// DefaultArgon2Config returns the cost parameters used when none are supplied.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		KeyLength:   32,
	}
}

func (c Argon2Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("argon2 memory must be at least %d KB", minMemoryKB)
	case c.Time == 0:
		return errors.New("argon2 time cost must be at least 1")
	case c.Parallelism == 0:
		return errors.New("argon2 parallelism must be at least 1")
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("argon2 key length must be at least %d bytes", minKeyLength)
	}
	return nil
}

func (c Argon2Config) key(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, c.Time, c.Memory, c.Parallelism, c.KeyLength)
}

type argon2Hasher struct {
	config Argon2Config
}

func newArgon2Hasher(cfg Argon2Config) (*argon2Hasher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &argon2Hasher{config: cfg}, nil
}

// encode renders the PHC string form:
// $argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>.
func (a *argon2Hasher) encode(secret, salt []byte) string {
	b64 := base64.StdEncoding
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID, argon2.Version,
		a.config.Memory, a.config.Time, a.config.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(a.config.key(secret, salt)),
	)
}

// verify recomputes the key with the parameters recorded in encoded, so hashes
// written under older cost settings keep verifying.
func (a *argon2Hasher) verify(secret []byte, encoded string) (bool, error) {
	params, salt, want, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	got := params.key(secret, salt)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (a *argon2Hasher) needsUpgrade(encoded string) (bool, error) {
	stored, _, _, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	cur := a.config
	return cur.Memory > stored.Memory ||
		cur.Time > stored.Time ||
		cur.Parallelism > stored.Parallelism ||
		cur.KeyLength != stored.KeyLength, nil
}

// decodePHC parses an encoded hash. KeyLength of the returned config is the
// length of the stored key.
func decodePHC(encoded string) (Argon2Config, []byte, []byte, error) {
	var cfg Argon2Config

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != argon2ID {
		return cfg, nil, nil, errMalformedPHC
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return cfg, nil, nil, errMalformedPHC
	}
	if version != argon2.Version {
		return cfg, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var rest string
	n, _ := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d%s", &cfg.Memory, &cfg.Time, &cfg.Parallelism, &rest)
	if n != 3 || cfg.Memory < minMemoryKB || cfg.Time == 0 || cfg.Parallelism == 0 {
		return cfg, nil, nil, errMalformedPHC
	}

	salt, err := base64.StdEncoding.DecodeString(fields[4])
	if err != nil || len(salt) == 0 {
		return cfg, nil, nil, errMalformedPHC
	}
	key, err := base64.StdEncoding.DecodeString(fields[5])
	if err != nil || len(key) == 0 {
		return cfg, nil, nil, errMalformedPHC
	}
	cfg.KeyLength = uint32(len(key))
	return cfg, salt, key, nil
}
