// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenauth/warden/internal/auth"
)

func TestGenerateSessionToken(t *testing.T) {
	t.Run("generates secure token", func(t *testing.T) {
		token, hash, err := auth.GenerateSessionToken()
		require.NoError(t, err)
		assert.Len(t, token, 64) // 32 bytes hex-encoded
		assert.NotEmpty(t, hash)
		assert.NotEqual(t, token, hash)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		token1, hash1, err := auth.GenerateSessionToken()
		require.NoError(t, err)

		token2, hash2, err := auth.GenerateSessionToken()
		require.NoError(t, err)

		assert.NotEqual(t, token1, token2)
		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("hash matches HashToken", func(t *testing.T) {
		token, hash, err := auth.GenerateSessionToken()
		require.NoError(t, err)
		assert.Equal(t, auth.HashToken(token), hash)
		assert.Len(t, hash, 64)
	})
}

func TestHashToken(t *testing.T) {
	t.Run("produces consistent hash", func(t *testing.T) {
		assert.Equal(t, auth.HashToken("testtoken123"), auth.HashToken("testtoken123"))
	})

	t.Run("produces different hashes for different tokens", func(t *testing.T) {
		assert.NotEqual(t, auth.HashToken("token1"), auth.HashToken("token2"))
	})
}

func TestVerifyToken(t *testing.T) {
	token, hash, err := auth.GenerateSessionToken()
	require.NoError(t, err)

	assert.True(t, auth.VerifyToken(token, hash))
	assert.False(t, auth.VerifyToken("wrongtoken", hash))
	assert.False(t, auth.VerifyToken("", hash))
	assert.False(t, auth.VerifyToken(token, ""))
}

func TestSession_CloneDropsRawID(t *testing.T) {
	s := &auth.Session{
		ID:        "raw",
		TokenHash: "hash",
		UserID:    ulid.Make(),
		CreatedAt: time.Now(),
		Rotated:   true,
	}
	c := s.Clone()
	assert.Empty(t, c.ID)
	assert.False(t, c.Rotated)
	assert.Equal(t, s.TokenHash, c.TokenHash)
	assert.Equal(t, s.UserID, c.UserID)
	assert.Equal(t, "raw", s.ID)
}

func TestSessionTokenBytes(t *testing.T) {
	assert.Equal(t, 32, auth.SessionTokenBytes)
}

func TestDeviceLabel(t *testing.T) {
	assert.Equal(t, "Unknown Device", auth.DeviceLabel(""))

	firefox := auth.DeviceLabel("Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0")
	assert.Contains(t, firefox, "Firefox")
	assert.Contains(t, firefox, "Linux")

	chrome := auth.DeviceLabel("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Contains(t, chrome, "Chrome")
	assert.Contains(t, chrome, "Windows")
}
