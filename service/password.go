package service

import (
	"crypto/rand"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	passwordUpper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	passwordLower   = "abcdefghijkmnopqrstuvwxyz"
	passwordDigits  = "23456789"
	passwordSpecial = "!@#$%^&*-_=+"
)

// PasswordPolicy generates and hashes credentials for accounts that
// authenticate by signature but still need a valid password.
type PasswordPolicy struct {
	// Length of generated passwords. Minimum 16.
	Length int
}

// DefaultPasswordPolicy returns the policy used for wallet-registered
// accounts.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{Length: 20}
}

// Generate produces a random password containing at least one
// uppercase, lowercase, digit and special character, shuffled so the
// class positions are not predictable.
func (p PasswordPolicy) Generate() (string, error) {
	length := p.Length
	if length < 16 {
		length = 16
	}

	classes := []string{passwordUpper, passwordLower, passwordDigits, passwordSpecial}
	all := passwordUpper + passwordLower + passwordDigits + passwordSpecial

	out := make([]byte, 0, length)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates with crypto/rand
	for i := len(out) - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

// Hash hashes a password using bcrypt
func (p PasswordPolicy) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// Check compares a password with its hash
func (p PasswordPolicy) Check(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func randomChar(set string) (byte, error) {
	i, err := randomIndex(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
