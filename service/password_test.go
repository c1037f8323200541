package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePasswordCharacterClasses(t *testing.T) {
	policy := DefaultPasswordPolicy()

	for i := 0; i < 20; i++ {
		password, err := policy.Generate()
		require.NoError(t, err)
		assert.Len(t, password, 20)
		assert.True(t, strings.ContainsAny(password, passwordUpper), "missing uppercase: %q", password)
		assert.True(t, strings.ContainsAny(password, passwordLower), "missing lowercase: %q", password)
		assert.True(t, strings.ContainsAny(password, passwordDigits), "missing digit: %q", password)
		assert.True(t, strings.ContainsAny(password, passwordSpecial), "missing special: %q", password)
	}
}

func TestGeneratePasswordMinimumLength(t *testing.T) {
	policy := PasswordPolicy{Length: 4}
	password, err := policy.Generate()
	require.NoError(t, err)
	assert.Len(t, password, 16)
}

func TestGeneratePasswordUnique(t *testing.T) {
	policy := DefaultPasswordPolicy()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		password, err := policy.Generate()
		require.NoError(t, err)
		assert.False(t, seen[password], "duplicate password generated")
		seen[password] = true
	}
}

func TestHashAndCheck(t *testing.T) {
	policy := DefaultPasswordPolicy()

	hash, err := policy.Hash("a strong password")
	require.NoError(t, err)
	assert.NotEqual(t, "a strong password", hash)
	assert.True(t, policy.Check("a strong password", hash))
	assert.False(t, policy.Check("a wrong password", hash))
	assert.False(t, policy.Check("a strong password", "not-a-hash"))
}
