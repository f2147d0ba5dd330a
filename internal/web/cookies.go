// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package web

import (
	"net"
	"net/http"
	"time"

	"github.com/wardenauth/warden/internal/auth"
)

// Cookie names.
const (
	SessionCookie  = "warden_session"
	RememberCookie = "warden_remember"
)

// cookieJar reads and writes the session and remember-me cookies.
type cookieJar struct {
	forceSecure bool
	idle        time.Duration
	now         func() time.Time
}

// clientState collects the session material and client metadata of r.
func (c cookieJar) clientState(r *http.Request) auth.ClientState {
	cs := auth.ClientState{
		Meta: auth.ClientMeta{
			UserAgent: r.UserAgent(),
			IPAddress: clientIP(r),
		},
	}
	if ck, err := r.Cookie(SessionCookie); err == nil {
		cs.SessionID = ck.Value
	}
	if ck, err := r.Cookie(RememberCookie); err == nil {
		cs.RememberToken = ck.Value
	}
	return cs
}

func (c cookieJar) cookie(r *http.Request, name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.forceSecure || r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	}
}

// setSession writes the session cookie. Max-Age tracks the idle timeout,
// so each authenticated response extends it.
func (c cookieJar) setSession(w http.ResponseWriter, r *http.Request, id string) {
	ck := c.cookie(r, SessionCookie, id)
	ck.MaxAge = int(c.idle / time.Second)
	http.SetCookie(w, ck)
}

func (c cookieJar) setRemember(w http.ResponseWriter, r *http.Request, token string, expires time.Time) {
	ck := c.cookie(r, RememberCookie, token)
	ck.Expires = expires.UTC()
	if secs := int(expires.Sub(c.now()) / time.Second); secs > 0 {
		ck.MaxAge = secs
	}
	http.SetCookie(w, ck)
}

// clear expires a cookie on the client.
func (c cookieJar) clear(w http.ResponseWriter, r *http.Request, name string) {
	ck := c.cookie(r, name, "")
	ck.Expires = time.Unix(0, 0).UTC()
	ck.MaxAge = -1
	http.SetCookie(w, ck)
}

// apply writes whatever cookie changes st asks for.
func (c cookieJar) apply(w http.ResponseWriter, r *http.Request, st auth.Status) {
	switch {
	case st.LoggedIn():
		c.setSession(w, r, st.Session.ID)
	case st.ClearSession:
		c.clear(w, r, SessionCookie)
	}

	switch {
	case st.RememberToken != "":
		c.setRemember(w, r, st.RememberToken, st.RememberExpiresAt)
	case st.ClearRemember:
		c.clear(w, r, RememberCookie)
	}
}

// clientIP is the peer address without its port. Forwarding headers are
// not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
