// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

//go:build integration

package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/wardenauth/warden/internal/auth"
	"github.com/wardenauth/warden/internal/web"
)

// client is a cookie-carrying API client.
type client struct {
	http *http.Client
	jar  *cookiejar.Jar
}

func newClient() *client {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &client{http: &http.Client{Jar: jar}, jar: jar}
}

func (c *client) do(method, path string, body any) (*http.Response, map[string]any) {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+path, &buf)
	Expect(err).NotTo(HaveOccurred())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (c *client) login(username, password string, remember bool) (*http.Response, map[string]any) {
	return c.do(http.MethodPost, "/auth/login", map[string]any{
		"username": username,
		"password": password,
		"remember": remember,
	})
}

func (c *client) cookie(name string) string {
	u, err := url.Parse(env.server.URL)
	Expect(err).NotTo(HaveOccurred())
	for _, ck := range c.jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func errorCode(body map[string]any) string {
	code, _ := body["error"].(string)
	return code
}

var _ = Describe("Authentication API", func() {
	var admin *client

	BeforeEach(func() {
		admin = newClient()
		resp, _ := admin.login("root", adminPassword, false)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	createMember := func(username, password string) string {
		resp, body := admin.do(http.MethodPost, "/admin/users", auth.RegisterRequest{
			Username:  username,
			Email:     username + "@example.com",
			Password:  password,
			FirstName: "Test",
			LastName:  "User",
			Role:      "member",
		})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated), "body: %v", body)
		return body["id"].(string)
	}

	Describe("account creation", func() {
		It("lets an admin create a member who can then log in", func() {
			id := createMember("alice", "Passw0rd!")

			alice := newClient()
			resp, body := alice.login("ALICE", "Passw0rd!", false)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["user"]).To(HaveKeyWithValue("id", id))
			Expect(body["user"]).To(HaveKeyWithValue("username", "alice"))

			resp, body = alice.do(http.MethodGet, "/auth/me", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["user"]).To(HaveKeyWithValue("role", "member"))
		})

		It("rejects duplicate usernames case-insensitively", func() {
			createMember("bob", "Passw0rd!")
			resp, body := admin.do(http.MethodPost, "/admin/users", auth.RegisterRequest{
				Username:  "BOB",
				Email:     "other-bob@example.com",
				Password:  "Passw0rd!",
				FirstName: "Bob",
				LastName:  "Two",
				Role:      "member",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(errorCode(body)).To(Equal(auth.CodeConflict))
		})

		It("reports every password policy violation", func() {
			resp, body := admin.do(http.MethodPost, "/admin/users", auth.RegisterRequest{
				Username:  "weak",
				Email:     "weak@example.com",
				Password:  "short",
				FirstName: "Weak",
				LastName:  "Password",
				Role:      "member",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body["violations"]).To(HaveLen(4))
		})

		It("forbids members from creating users", func() {
			createMember("carol", "Passw0rd!")
			carol := newClient()
			resp, _ := carol.login("carol", "Passw0rd!", false)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, body := carol.do(http.MethodPost, "/admin/users", auth.RegisterRequest{
				Username:  "mallory",
				Email:     "mallory@example.com",
				Password:  "Passw0rd!",
				FirstName: "Mal",
				LastName:  "Lory",
				Role:      "admin",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			Expect(errorCode(body)).To(Equal(auth.CodeAccessDenied))
		})
	})

	Describe("sessions", func() {
		It("rejects wrong passwords with the generic message", func() {
			anon := newClient()
			resp, body := anon.login("root", "wrong", false)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(body["error_description"]).To(Equal(auth.MsgInvalidCredentials))

			resp, body = anon.login("nobody", "wrong", false)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(body["error_description"]).To(Equal(auth.MsgInvalidCredentials))
		})

		It("ends the session on logout", func() {
			resp, _ := admin.do(http.MethodPost, "/auth/logout", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp, body := admin.do(http.MethodGet, "/auth/me", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(errorCode(body)).To(Equal(auth.CodeAccessDenied))
		})

		It("restores a session from the remember-me cookie", func() {
			createMember("dave", "Passw0rd!")
			dave := newClient()
			resp, _ := dave.login("dave", "Passw0rd!", true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			firstToken := dave.cookie(web.RememberCookie)
			Expect(firstToken).NotTo(BeEmpty())

			// A new browser that only kept the remember cookie.
			restored := newClient()
			u, _ := url.Parse(env.server.URL)
			restored.jar.SetCookies(u, []*http.Cookie{{Name: web.RememberCookie, Value: firstToken}})

			resp, body := restored.do(http.MethodGet, "/auth/me", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body["user"]).To(HaveKeyWithValue("username", "dave"))
			Expect(restored.cookie(web.RememberCookie)).NotTo(Equal(firstToken))
			Expect(restored.cookie(web.SessionCookie)).NotTo(BeEmpty())
		})
	})

	Describe("permissions", func() {
		It("answers permission checks for the current user", func() {
			resp, body := admin.do(http.MethodGet, "/auth/permissions/users:create", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("allowed", true))

			resp, body = newClient().do(http.MethodGet, "/auth/permissions/users:create", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(HaveKeyWithValue("allowed", false))
		})
	})

	Describe("passwords", func() {
		It("changes the password and rejects the old one", func() {
			createMember("erin", "Passw0rd!")
			erin := newClient()
			resp, _ := erin.login("erin", "Passw0rd!", false)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, _ = erin.do(http.MethodPost, "/auth/password", map[string]string{
				"current_password": "Passw0rd!",
				"new_password":     "N3w!Passw0rd",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp, _ = newClient().login("erin", "Passw0rd!", false)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp, _ = newClient().login("erin", "N3w!Passw0rd", false)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("gives the same reset answer for known and unknown emails", func() {
			_, known := newClient().do(http.MethodPost, "/auth/password/reset", map[string]string{"email": "root@example.com"})
			_, unknown := newClient().do(http.MethodPost, "/auth/password/reset", map[string]string{"email": "ghost@example.com"})
			Expect(known["message"]).To(Equal(unknown["message"]))
		})
	})

	Describe("activity log", func() {
		It("records logins in Postgres", func() {
			Eventually(func() []any {
				_, body := admin.do(http.MethodGet, "/admin/activity?limit=100", nil)
				events, _ := body["events"].([]any)
				return events
			}).Should(ContainElement(HaveKeyWithValue("action", auth.ActionLogin)))
		})
	})
})
