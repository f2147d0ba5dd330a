// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wardenauth/warden/internal/access"
	"github.com/wardenauth/warden/internal/auth"
	"github.com/wardenauth/warden/internal/config"
	"github.com/wardenauth/warden/internal/logging"
	"github.com/wardenauth/warden/internal/observability"
	"github.com/wardenauth/warden/internal/store"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	file    string
	timeout time.Duration
	dryRun  bool
}

// seedFile is the YAML document read by warden seed.
type seedFile struct {
	Users []seedUser `yaml:"users"`
}

type seedUser struct {
	Username  string `yaml:"username"`
	Email     string `yaml:"email"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Role      string `yaml:"role"`
	// Password or PasswordEnv, the name of a variable holding it.
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	return newSeedCmd(&CommandDeps{})
}

func newSeedCmd(deps *CommandDeps) *cobra.Command {
	deps.withDefaults()
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create initial user accounts",
		Long: `Registers the users listed in a YAML file. Passwords must satisfy the
configured password policy. This command is idempotent: users whose
username or email already exists are skipped.`,
		Example: `  warden seed --file users.yaml
  warden seed --file users.yaml --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVarP(&cfg.file, "file", "f", "", "YAML file listing users to create")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")
	cmd.Flags().BoolVar(&cfg.dryRun, "dry-run", false, "check the file against roles and password policy without connecting")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runSeed(cmd *cobra.Command, sc *seedConfig, deps *CommandDeps) error {
	cfg, err := config.Load(config.LoadOptions{Path: configFile, Getenv: deps.Getenv})
	if err != nil {
		return err
	}

	f, err := os.Open(sc.file)
	if err != nil {
		return oops.Code("SEED_READ_FAILED").With("path", sc.file).Wrap(err)
	}
	defer func() { _ = f.Close() }()

	requests, err := parseSeedFile(f, deps.Getenv)
	if err != nil {
		return oops.With("path", sc.file).Wrap(err)
	}

	if sc.dryRun {
		return checkSeeds(cmd, cfg, requests)
	}

	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("%s environment variable is required", config.DatabaseURLEnv)
	}

	// Use cmd.Context() to respect SIGINT/SIGTERM signals
	ctx, cancel := context.WithTimeout(cmd.Context(), sc.timeout)
	defer cancel()

	logger := logging.Setup("warden", version, "text", cmd.ErrOrStderr(),
		logging.WithLevel(logging.ParseLevel(cfg.Log.Level)))

	cmd.Println("Connecting to database...")
	db, err := deps.DatabaseFactory(ctx, cfg.Database.URL, store.ConnectOptions{
		MaxConns: 2,
		Attempts: cfg.Database.ConnectAttempts,
		Logger:   logger,
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	comps, err := buildComponents(cfg, db, observability.NewMetrics(prometheus.NewRegistry()), logger)
	if err != nil {
		return err
	}
	defer closePublisher(comps.publisher, logger)

	var created, skipped int
	for _, req := range requests {
		id, err := comps.service.Register(ctx, req)
		switch {
		case err == nil:
			created++
			cmd.Printf("Created user %s (%s)\n", req.Username, id)
		case auth.ErrorKind(err) == auth.CodeConflict:
			skipped++
			field, _ := auth.ErrorContext(err, "field")
			cmd.Printf("User %s already exists (%v taken), skipping\n", req.Username, field)
		default:
			return oops.Code("SEED_FAILED").
				With("operation", "register user").
				With("username", req.Username).
				Wrap(err)
		}
	}

	cmd.Printf("Seeding complete: %d created, %d skipped\n", created, skipped)
	return nil
}

// parseSeedFile decodes r and resolves password_env references.
func parseSeedFile(r io.Reader, getenv func(string) string) ([]auth.RegisterRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, oops.Code("SEED_READ_FAILED").Wrap(err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc seedFile
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, oops.Code("SEED_PARSE_FAILED").Wrap(err)
	}
	if len(doc.Users) == 0 {
		return nil, oops.Code("SEED_PARSE_FAILED").Errorf("seed file lists no users")
	}

	out := make([]auth.RegisterRequest, 0, len(doc.Users))
	for i, u := range doc.Users {
		password := u.Password
		if u.PasswordEnv != "" {
			if password != "" {
				return nil, oops.Code("SEED_PARSE_FAILED").
					With("index", i).
					Errorf("user %d sets both password and password_env", i)
			}
			password = getenv(u.PasswordEnv)
			if password == "" {
				return nil, oops.Code("SEED_PARSE_FAILED").
					With("index", i).
					Errorf("user %d: environment variable %s is empty", i, u.PasswordEnv)
			}
		}
		out = append(out, auth.RegisterRequest{
			Username:  u.Username,
			Email:     u.Email,
			Password:  password,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Role:      u.Role,
		})
	}
	return out, nil
}

// checkSeeds reports every role and password policy problem in requests.
func checkSeeds(cmd *cobra.Command, cfg *config.Config, requests []auth.RegisterRequest) error {
	gate, err := access.NewStaticGate(cfg.Roles)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "compile roles").Wrap(err)
	}

	var problems int
	for _, req := range requests {
		if err := auth.ValidateUsername(auth.NormalizeUsername(req.Username)); err != nil {
			problems++
			cmd.Printf("%s: %v\n", req.Username, err)
		}
		if !gate.KnownRole(req.Role) {
			problems++
			cmd.Printf("%s: unknown role %q\n", req.Username, req.Role)
		}
		if res := cfg.Password.Validate(req.Password); !res.Valid {
			problems++
			cmd.Printf("%s: %s\n", req.Username, res.Message())
		}
	}

	if problems > 0 {
		return oops.Code("SEED_INVALID").With("problems", problems).Errorf("%d problem(s) found in seed file", problems)
	}
	cmd.Printf("Seed file OK: %d user(s)\n", len(requests))
	return nil
}
