package security

import "golang.org/x/crypto/bcrypt"

// bcryptCost is the work factor applied to stored login passwords.
const bcryptCost = 12

// HashPassword derives the bcrypt hash persisted on the user record.
// The plaintext is never stored.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
