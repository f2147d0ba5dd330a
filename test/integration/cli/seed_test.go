// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

//go:build integration

package cli_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

const seedYAML = `users:
  - username: Root
    email: root@example.com
    first_name: Root
    last_name: Admin
    role: admin
    password: "Adm1n!secret"
  - username: alice
    email: alice@example.com
    first_name: Alice
    last_name: Example
    role: member
    password_env: ALICE_PASSWORD
`

var _ = Describe("Migrate and seed commands", func() {
	var (
		ctx        context.Context
		configHome string
		seedFile   string
	)

	BeforeEach(func() {
		ctx = context.Background()
		resetDatabase(ctx, env.pool)
		configHome = GinkgoT().TempDir()
		seedFile = filepath.Join(GinkgoT().TempDir(), "users.yaml")
		Expect(os.WriteFile(seedFile, []byte(seedYAML), 0o600)).To(Succeed())
		GinkgoT().Setenv("ALICE_PASSWORD", "Al1ce!secret")
	})

	It("applies migrations and reports status", func() {
		out, err := warden(ctx, configHome, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", out)

		out, err = warden(ctx, configHome, "migrate", "status")
		Expect(err).NotTo(HaveOccurred(), "migrate status failed: %s", out)
		Expect(out).To(ContainSubstring("Pending: 0"))
	})

	It("creates seeded users with normalized usernames", func() {
		out, err := warden(ctx, configHome, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", out)

		out, err = warden(ctx, configHome, "seed", "-f", seedFile)
		Expect(err).NotTo(HaveOccurred(), "seed failed: %s", out)
		Expect(out).To(ContainSubstring("Seeding complete: 2 created, 0 skipped"))

		var role string
		err = env.pool.QueryRow(ctx, "SELECT role FROM users WHERE username = $1", "root").Scan(&role)
		Expect(err).NotTo(HaveOccurred())
		Expect(role).To(Equal("admin"))
	})

	It("is idempotent", func() {
		out, err := warden(ctx, configHome, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate up failed: %s", out)

		out, err = warden(ctx, configHome, "seed", "-f", seedFile)
		Expect(err).NotTo(HaveOccurred(), "first seed failed: %s", out)

		out, err = warden(ctx, configHome, "seed", "-f", seedFile)
		Expect(err).NotTo(HaveOccurred(), "second seed failed: %s", out)
		Expect(out).To(ContainSubstring("Seeding complete: 0 created, 2 skipped"))

		var count int
		Expect(env.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count)).To(Succeed())
		Expect(count).To(Equal(2))
	})

	It("fails with CONFIG_INVALID when DATABASE_URL is missing", func() {
		cmd := exec.CommandContext(ctx, "go", "run", ".", "seed", "-f", seedFile)
		cmd.Dir = "../../../cmd/warden"
		cmd.Env = append(cmd.Environ(), "DATABASE_URL=", "XDG_CONFIG_HOME="+configHome)

		output, err := cmd.CombinedOutput()
		Expect(err).To(HaveOccurred())
		Expect(string(output)).To(ContainSubstring("DATABASE_URL"))
	})
})
