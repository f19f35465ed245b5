package stub

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// HashParams are the argon2id cost parameters for seeded users.
type HashParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	KeyLength   uint32
}

// DefaultHashParams keeps seeding fast enough for tests and load runs.
var DefaultHashParams = HashParams{Memory: 8 * 1024, Time: 1, Parallelism: 1, KeyLength: 32}

const saltLength = 16

var errInvalidHash = errors.New("invalid password hash")

type user struct {
	id   string
	role string
	hash string
}

type userDirectory struct {
	params HashParams

	mu    sync.RWMutex
	users map[string]user
}

func newUserDirectory(params HashParams) *userDirectory {
	if params.KeyLength == 0 {
		params = DefaultHashParams
	}
	return &userDirectory{params: params, users: make(map[string]user)}
}

func (d *userDirectory) add(id, email, password, role string) error {
	hash, err := d.hash(password)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.users[strings.ToLower(email)] = user{id: id, role: role, hash: hash}
	d.mu.Unlock()
	return nil
}

// authenticate returns the user for email when password matches.
func (d *userDirectory) authenticate(email, password string) (user, bool) {
	d.mu.RLock()
	u, ok := d.users[strings.ToLower(strings.TrimSpace(email))]
	d.mu.RUnlock()
	if !ok {
		return user{}, false
	}
	match, err := verifyPassword(password, u.hash)
	if err != nil || !match {
		return user{}, false
	}
	return u, true
}

func (d *userDirectory) hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	p := d.params
	sum := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

func verifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errInvalidHash
	}

	var (
		memory, timeCost uint32
		threads          uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return false, errInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < saltLength {
		return false, errInvalidHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false, errInvalidHash
	}

	actual := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1, nil
}
