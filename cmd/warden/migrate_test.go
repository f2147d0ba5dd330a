// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wardenauth/warden/internal/store"
	"github.com/wardenauth/warden/pkg/errutil"
)

type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) Up() error         { return m.Called().Error(0) }
func (m *mockMigrator) Down() error       { return m.Called().Error(0) }
func (m *mockMigrator) Steps(n int) error { return m.Called(n).Error(0) }
func (m *mockMigrator) Force(v int) error { return m.Called(v).Error(0) }
func (m *mockMigrator) Close() error      { return m.Called().Error(0) }
func (m *mockMigrator) Status() (*store.Status, error) {
	args := m.Called()
	st, _ := args.Get(0).(*store.Status)
	return st, args.Error(1)
}

func runMigrate(t *testing.T, m *mockMigrator, env map[string]string, args ...string) (string, error) {
	t.Helper()
	deps := &CommandDeps{
		MigratorFactory: func(string) (Migrator, error) { return m, nil },
		Getenv:          func(k string) string { return env[k] },
	}
	cmd := newMigrateCmd(deps)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

var testEnv = map[string]string{"DATABASE_URL": "postgres://localhost/warden"}

func TestMigrateUp(t *testing.T) {
	m := &mockMigrator{}
	m.On("Up").Return(nil).Once()
	m.On("Close").Return(nil).Once()

	out, err := runMigrate(t, m, testEnv, "up")
	require.NoError(t, err)
	assert.Contains(t, out, "Migrations completed successfully")
	m.AssertExpectations(t)
}

func TestMigrateUp_Failure(t *testing.T) {
	m := &mockMigrator{}
	m.On("Up").Return(errors.New("syntax error")).Once()
	m.On("Close").Return(nil).Once()

	_, err := runMigrate(t, m, testEnv, "up")
	errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
	m.AssertExpectations(t)
}

func TestMigrateDown(t *testing.T) {
	t.Run("one step by default", func(t *testing.T) {
		m := &mockMigrator{}
		m.On("Steps", -1).Return(nil).Once()
		m.On("Close").Return(nil).Once()

		_, err := runMigrate(t, m, testEnv, "down")
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("steps flag", func(t *testing.T) {
		m := &mockMigrator{}
		m.On("Steps", -3).Return(nil).Once()
		m.On("Close").Return(nil).Once()

		_, err := runMigrate(t, m, testEnv, "down", "--steps", "3")
		require.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("all", func(t *testing.T) {
		m := &mockMigrator{}
		m.On("Down").Return(nil).Once()
		m.On("Close").Return(nil).Once()

		_, err := runMigrate(t, m, testEnv, "down", "--all")
		require.NoError(t, err)
		m.AssertExpectations(t)
	})
}

func TestMigrateStatus(t *testing.T) {
	m := &mockMigrator{}
	m.On("Status").Return(&store.Status{
		Version: 2,
		Name:    "000002_sessions",
		Applied: []uint{1, 2},
		Pending: []uint{3},
	}, nil).Once()
	m.On("Close").Return(nil).Once()

	out, err := runMigrate(t, m, testEnv, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema version: 2 (000002_sessions)")
	assert.Contains(t, out, "Applied: 2")
	assert.Contains(t, out, "Pending: 1")
	assert.Contains(t, out, "000003_activity_log")
	assert.NotContains(t, out, "dirty")
}

func TestMigrateForce(t *testing.T) {
	m := &mockMigrator{}
	m.On("Force", 2).Return(nil).Once()
	m.On("Close").Return(nil).Once()

	_, err := runMigrate(t, m, testEnv, "force", "2")
	require.NoError(t, err)
	m.AssertExpectations(t)

	t.Run("rejects non-numeric version before connecting", func(t *testing.T) {
		m := &mockMigrator{}
		_, err := runMigrate(t, m, testEnv, "force", "latest")
		errutil.AssertErrorCode(t, err, "INVALID_VERSION")
		m.AssertNotCalled(t, "Close")
	})
}

func TestMigrate_NoDatabaseURL(t *testing.T) {
	m := &mockMigrator{}
	_, err := runMigrate(t, m, nil, "up")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	m.AssertNotCalled(t, "Up")
}

func TestMigrate_FactoryError(t *testing.T) {
	deps := &CommandDeps{
		MigratorFactory: func(string) (Migrator, error) { return nil, errors.New("bad url") },
		Getenv:          func(k string) string { return testEnv[k] },
	}
	cmd := newMigrateCmd(deps)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"up"})

	errutil.AssertErrorCode(t, cmd.Execute(), "MIGRATION_INIT_FAILED")
}

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
	}{
		{name: "valid integer", input: "3", wantVersion: 3},
		{name: "zero is valid", input: "0", wantVersion: 0},
		{name: "non-numeric returns error", input: "abc", wantErr: true},
		{name: "trailing chars are ignored", input: "3abc", wantVersion: 3},
		{name: "negative parses", input: "-1", wantVersion: -1},
		{name: "empty string returns error", input: "", wantErr: true},
		{name: "whitespace only returns error", input: "   ", wantErr: true},
		{name: "leading whitespace is handled", input: "  42", wantVersion: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := parseForceVersion(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				assert.Equal(t, 0, version)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantVersion, version)
			}
		})
	}
}
