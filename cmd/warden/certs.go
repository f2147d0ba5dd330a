// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wardenauth/warden/internal/tls"
	"github.com/wardenauth/warden/internal/xdg"
)

type certsConfig struct {
	dir   string
	hosts []string
	name  string
	force bool
}

// NewCertsCmd creates the certs subcommand.
func NewCertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Manage development TLS certificates",
	}
	cmd.AddCommand(newCertsGenerateCmd())
	return cmd
}

func newCertsGenerateCmd() *cobra.Command {
	cfg := &certsConfig{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create a local CA and a server certificate for HTTPS",
		Long: `Generate writes a self-signed development CA and a server certificate
signed by it. An existing CA in the target directory is reused so clients
that already trust it keep working. Not intended for production.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCertsGenerate(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.dir, "dir", "", "output directory (default $XDG_CONFIG_HOME/warden/certs)")
	cmd.Flags().StringSliceVar(&cfg.hosts, "host", []string{"localhost", "127.0.0.1"}, "DNS name or IP the certificate is valid for (repeatable)")
	cmd.Flags().StringVar(&cfg.name, "name", "local", "CA name suffix")
	cmd.Flags().BoolVar(&cfg.force, "force", false, "replace an existing CA")
	return cmd
}

func runCertsGenerate(cmd *cobra.Command, cfg *certsConfig) error {
	dir := cfg.dir
	if dir == "" {
		var err error
		if dir, err = xdg.CertsDir(); err != nil {
			return err
		}
	}
	if err := xdg.EnsureDir(dir); err != nil {
		return err
	}

	ca, err := loadOrCreateCA(dir, cfg.name, cfg.force)
	if err != nil {
		return err
	}
	server, err := tls.GenerateServerCert(ca, cfg.hosts)
	if err != nil {
		return err
	}
	if err := tls.SaveCertificates(dir, ca, server); err != nil {
		return err
	}

	certFile := filepath.Join(dir, tls.ServerCertFile)
	keyFile := filepath.Join(dir, tls.ServerKeyFile)
	cmd.Printf("Wrote certificates to %s\n", dir)
	cmd.Printf("Trust %s in your client, then add to the config file:\n\n", filepath.Join(dir, tls.CACertFile))
	cmd.Printf("http:\n  tls:\n    cert_file: %s\n    key_file: %s\n", certFile, keyFile)
	return nil
}

func loadOrCreateCA(dir, name string, force bool) (*tls.CA, error) {
	if force {
		return tls.GenerateCA(name)
	}
	ca, err := tls.LoadCA(dir)
	if err == nil {
		return ca, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.With("dir", dir).Hint("pass --force to replace the existing CA").Wrap(err)
	}
	return tls.GenerateCA(name)
}
