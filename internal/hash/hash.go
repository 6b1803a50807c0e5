package hash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	saltLength = 16
	keyLength  = 32
)

// Hasher derives argon2id hashes in the standard PHC string format. Cost
// parameters come from configuration so production can run a heavier profile
// than development.
type Hasher struct {
	MemoryKB    uint32
	Time        uint32
	Parallelism uint8
}

func NewHasher(memoryKB, timeCost uint32, parallelism uint8) *Hasher {
	if memoryKB == 0 {
		memoryKB = 16 * 1024
	}
	if timeCost == 0 {
		timeCost = 1
	}
	if parallelism == 0 {
		parallelism = 1
	}
	return &Hasher{MemoryKB: memoryKB, Time: timeCost, Parallelism: parallelism}
}

func (h *Hasher) HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.Time, h.MemoryKB, h.Parallelism, keyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.MemoryKB,
		h.Time,
		h.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// CheckPassword reports whether password matches the encoded hash. Malformed
// hashes count as a mismatch, never an error: verification fails closed.
func (h *Hasher) CheckPassword(encoded, password string) bool {
	memory, timeCost, parallelism, salt, key, err := decode(encoded)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, timeCost, memory, parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1
}

func decode(encoded string) (memory, timeCost uint32, parallelism uint8, salt, key []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		err = errors.New("invalid hash format")
		return
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return
	}
	if version != argon2.Version {
		err = errors.New("unsupported argon2 version")
		return
	}

	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		err = errors.New("invalid parameter format")
		return
	}
	for _, p := range params {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			err = errors.New("invalid parameter entry")
			return
		}
		var v uint64
		switch kv[0] {
		case "m":
			v, err = strconv.ParseUint(kv[1], 10, 32)
			memory = uint32(v)
		case "t":
			v, err = strconv.ParseUint(kv[1], 10, 32)
			timeCost = uint32(v)
		case "p":
			v, err = strconv.ParseUint(kv[1], 10, 8)
			parallelism = uint8(v)
		default:
			err = errors.New("unsupported parameter")
		}
		if err != nil {
			return
		}
	}
	if memory == 0 || timeCost == 0 || parallelism == 0 {
		err = errors.New("missing parameters")
		return
	}

	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return
	}
	if len(salt) == 0 || len(key) == 0 {
		err = errors.New("empty salt or key")
	}
	return
}
