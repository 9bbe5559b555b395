package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ServiceKeyPrefix marks keys issued to scheduler and operator clients.
const ServiceKeyPrefix = "pmk_"

// HashKey hashes a service key using bcrypt
func HashKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(bytes), err
}

// VerifyKey verifies a service key against a hash
func VerifyKey(key, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	return err == nil
}

// GenerateRandomBytes generates random bytes
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// GenerateRandomString generates a random string
func GenerateRandomString(n int) (string, error) {
	bytes, err := GenerateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// GenerateServiceKey returns a new service key and its bcrypt hash. Only the
// hash is stored in configuration.
func GenerateServiceKey() (key, hash string, err error) {
	secret, err := GenerateRandomString(32)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	key = ServiceKeyPrefix + secret
	hash, err = HashKey(key)
	if err != nil {
		return "", "", fmt.Errorf("hash key: %w", err)
	}
	return key, hash, nil
}
