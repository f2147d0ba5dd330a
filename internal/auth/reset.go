// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package auth

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"

	"github.com/samber/oops"
)

// ResetRequestedMessage is returned by ResetPassword for every email,
// registered or not.
const ResetRequestedMessage = "If an account exists for that email address, a temporary password has been sent."

// TemporaryPasswordLength is the length of generated temporary credentials.
const TemporaryPasswordLength = 20

const (
	tempUpper   = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	tempLower   = "abcdefghijkmnopqrstuvwxyz"
	tempDigits  = "23456789"
	tempSpecial = "!@#$%^&*-_=+?"
	tempAll     = tempUpper + tempLower + tempDigits + tempSpecial
)

// ResetNotifier delivers a temporary credential to a user. Delivery (email,
// SMS) is outside this module.
type ResetNotifier interface {
	SendTemporaryPassword(ctx context.Context, user *Profile, temporaryPassword string) error
}

// LogNotifier records that a temporary credential was issued without
// logging its value. It is the notifier used when no delivery channel is
// wired.
type LogNotifier struct {
	Logger *slog.Logger
}

// SendTemporaryPassword implements ResetNotifier.
func (n LogNotifier) SendTemporaryPassword(ctx context.Context, user *Profile, _ string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "temporary password issued; no delivery channel configured",
		"user_id", user.ID.String())
	return nil
}

// GenerateTemporaryPassword returns a random credential containing at least
// one uppercase letter, lowercase letter, digit and special character.
func GenerateTemporaryPassword() (string, error) {
	buf := make([]byte, TemporaryPasswordLength)
	required := []string{tempUpper, tempLower, tempDigits, tempSpecial}
	for i := range buf {
		set := tempAll
		if i < len(required) {
			set = required[i]
		}
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}

	// Fisher-Yates so the required classes are not always in front.
	for i := len(buf) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
		}
		buf[i], buf[j.Int64()] = buf[j.Int64()], buf[i]
	}
	return string(buf), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	return set[n.Int64()], nil
}
