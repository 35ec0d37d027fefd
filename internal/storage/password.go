package storage

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	passwordHashPrefix = "scrypt$v1"
	passwordKeyLen     = 64
	minPasswordLen     = 8
)

var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", minPasswordLen)

type scryptParams struct {
	N, r, p int
}

var defaultScrypt = scryptParams{N: 32768, r: 8, p: 1}

// HashPassword returns "scrypt$v1$N$r$p$salt$key".
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", ErrPasswordTooShort
	}
	return hashWith(password, defaultScrypt)
}

func hashWith(password string, params scryptParams) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key, err := scrypt.Key([]byte(password), salt, params.N, params.r, params.p, passwordKeyLen)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		passwordHashPrefix,
		strconv.Itoa(params.N),
		strconv.Itoa(params.r),
		strconv.Itoa(params.p),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	}, "$"), nil
}

func VerifyPassword(password, stored string) bool {
	rest, ok := strings.CutPrefix(stored, passwordHashPrefix+"$")
	if !ok {
		return false
	}
	parts := strings.Split(rest, "$")
	if len(parts) != 5 {
		return false
	}
	var params scryptParams
	for i, dst := range []*int{&params.N, &params.r, &params.p} {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n <= 0 {
			return false
		}
		*dst = n
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(want) == 0 {
		return false
	}
	got, err := scrypt.Key([]byte(password), salt, params.N, params.r, params.p, len(want))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

// RandomPassword returns a URL-safe password of n random bytes.
func RandomPassword(n int) (string, error) {
	if n < minPasswordLen {
		return "", errors.New("random password too short")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
