package crypto

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns a bcrypt hash of the supplied password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares the hashed password with the plaintext candidate.
func VerifyPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// HashPIN hashes a card PIN. PINs are short, so this exists mostly to keep
// them out of the database in clear text.
func HashPIN(pin string) (string, error) {
	return HashPassword(pin)
}

// VerifyPIN checks a candidate PIN against its stored hash. An empty hash
// means no PIN was set and always verifies.
func VerifyPIN(hashedPIN, pin string) bool {
	if hashedPIN == "" {
		return true
	}
	return VerifyPassword(hashedPIN, pin)
}

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
