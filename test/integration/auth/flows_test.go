// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

//go:build integration

package auth_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/elouarate/gallery-admin/internal/auth"
)

const (
	curatorEmail    = "curator@example.com"
	curatorPassword = "Gallery#Curator2026"
	newPassword     = "Fresh!Canvas4821"
)

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type loginBody struct {
	Principal struct {
		ID    string    `json:"id"`
		Email string    `json:"email"`
		Role  auth.Role `json:"role"`
	} `json:"principal"`
	Tokens      tokens `json:"tokens"`
	Provisioned bool   `json:"provisioned"`
}

type errorBody struct {
	Error      string  `json:"error"`
	RetryAfter float64 `json:"retry_after"`
}

// call sends a JSON request and decodes a JSON response into out when set.
func call(method, path, bearer string, body, out any) *http.Response {
	GinkgoHelper()
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req, err := http.NewRequestWithContext(env.ctx, method, env.server.URL+path, &buf)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := env.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}
	return resp
}

func login(email, password string) (*http.Response, loginBody) {
	GinkgoHelper()
	var body loginBody
	resp := call(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password}, &body)
	return resp, body
}

// createCurator provisions the bootstrap admin and uses it to create a user.
func createCurator() {
	GinkgoHelper()
	resp, admin := login(auth.DefaultBootstrapEmail, auth.DefaultBootstrapPassword)
	Expect(resp.StatusCode).To(Equal(http.StatusOK))

	resp = call(http.MethodPost, "/admin/principals", admin.Tokens.AccessToken,
		map[string]string{"email": curatorEmail, "password": curatorPassword, "role": "USER"}, nil)
	Expect(resp.StatusCode).To(Equal(http.StatusCreated))
}

var _ = Describe("Bootstrap", func() {
	It("provisions the administrator on first login with the default credentials", func() {
		resp, body := login(auth.DefaultBootstrapEmail, auth.DefaultBootstrapPassword)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body.Provisioned).To(BeTrue())
		Expect(body.Principal.Role).To(Equal(auth.RoleAdmin))

		var me struct {
			Email string    `json:"email"`
			Role  auth.Role `json:"role"`
		}
		Expect(call(http.MethodGet, "/auth/me", body.Tokens.AccessToken, nil, &me).StatusCode).To(Equal(http.StatusOK))
		Expect(me.Email).To(Equal(auth.DefaultBootstrapEmail))
		Expect(me.Role).To(Equal(auth.RoleAdmin))

		By("not provisioning again once an active principal exists")
		resp, body = login(auth.DefaultBootstrapEmail, auth.DefaultBootstrapPassword)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body.Provisioned).To(BeFalse())

		n, err := env.principals.CountActive(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))
	})

	It("refuses login to a deactivated bootstrap administrator", func() {
		admin, _, err := env.orch.EnsureBootstrapAdmin(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(env.principals.SetActive(env.ctx, admin.ID, false)).To(Succeed())
		_, err = env.orch.CreatePrincipal(env.ctx, curatorEmail, curatorPassword, auth.RoleUser)
		Expect(err).NotTo(HaveOccurred())

		resp, _ := login(auth.DefaultBootstrapEmail, auth.DefaultBootstrapPassword)
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden), "inactive principals cannot log in")
	})
})

var _ = Describe("Sessions", func() {
	BeforeEach(createCurator)

	It("logs in case-insensitively and forbids admin routes to users", func() {
		resp, body := login("Curator@Example.COM", curatorPassword)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body.Principal.Email).To(Equal(curatorEmail))
		Expect(body.Principal.Role).To(Equal(auth.RoleUser))

		resp = call(http.MethodPost, "/admin/principals", body.Tokens.AccessToken,
			map[string]string{"email": "other@example.com", "password": curatorPassword}, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
	})

	It("rotates refresh tokens and rejects reuse", func() {
		_, body := login(curatorEmail, curatorPassword)

		var rotated tokens
		resp := call(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": body.Tokens.RefreshToken}, &rotated)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(rotated.RefreshToken).NotTo(Equal(body.Tokens.RefreshToken))

		resp = call(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": body.Tokens.RefreshToken}, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		resp = call(http.MethodGet, "/auth/me", rotated.AccessToken, nil, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("revokes the access and refresh tokens on logout", func() {
		_, body := login(curatorEmail, curatorPassword)

		resp := call(http.MethodPost, "/auth/logout", body.Tokens.AccessToken,
			map[string]string{"refresh_token": body.Tokens.RefreshToken}, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

		Expect(call(http.MethodGet, "/auth/me", body.Tokens.AccessToken, nil, nil).StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(call(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": body.Tokens.RefreshToken}, nil).StatusCode).
			To(Equal(http.StatusUnauthorized))
	})

	It("revokes every session on logout-all", func() {
		_, first := login(curatorEmail, curatorPassword)
		_, second := login(curatorEmail, curatorPassword)

		resp := call(http.MethodPost, "/auth/logout/all", first.Tokens.AccessToken, nil, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

		Expect(call(http.MethodGet, "/auth/me", second.Tokens.AccessToken, nil, nil).StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(call(http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": second.Tokens.RefreshToken}, nil).StatusCode).
			To(Equal(http.StatusUnauthorized))

		resp, fresh := login(curatorEmail, curatorPassword)
		Expect(resp.StatusCode).To(Equal(http.StatusOK), "new logins still succeed")
		Expect(call(http.MethodGet, "/auth/me", fresh.Tokens.AccessToken, nil, nil).StatusCode).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Lockout", func() {
	BeforeEach(createCurator)

	It("locks the identifier after repeated failures, even for the right password", func() {
		for range auth.DefaultMaxAttempts {
			resp, _ := login(curatorEmail, "Wrong#Password1")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		}

		var locked errorBody
		resp := call(http.MethodPost, "/auth/login", "",
			map[string]string{"email": curatorEmail, "password": "Wrong#Password1"}, &locked)
		Expect(resp.StatusCode).To(Equal(http.StatusLocked))
		Expect(locked.Error).To(Equal(string(auth.KindAccountLocked)))

		retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
		Expect(err).NotTo(HaveOccurred())
		Expect(retryAfter).To(BeNumerically(">", 0))

		resp, _ = login(curatorEmail, curatorPassword)
		Expect(resp.StatusCode).To(Equal(http.StatusLocked))
	})

	It("counts unknown emails toward the lockout", func() {
		for range auth.DefaultMaxAttempts {
			login("ghost@example.com", curatorPassword)
		}
		resp, _ := login("ghost@example.com", curatorPassword)
		Expect(resp.StatusCode).To(Equal(http.StatusLocked))
	})
})

var _ = Describe("Password reset", func() {
	BeforeEach(createCurator)

	It("resets the password, revokes sessions and clears the lockout", func() {
		_, session := login(curatorEmail, curatorPassword)
		for range auth.DefaultMaxAttempts {
			login(curatorEmail, "Wrong#Password1")
		}

		resp := call(http.MethodPost, "/auth/password/forgot", "", map[string]string{"email": curatorEmail}, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		link := env.sink.lastLink()
		Expect(link.email).To(Equal(curatorEmail))

		resp = call(http.MethodPost, "/auth/password/reset/validate", "", map[string]string{"token": link.token}, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

		resp = call(http.MethodPost, "/auth/password/reset", "",
			map[string]string{"token": link.token, "password": newPassword}, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

		By("revoking tokens issued before the reset")
		Expect(call(http.MethodGet, "/auth/me", session.Tokens.AccessToken, nil, nil).StatusCode).To(Equal(http.StatusUnauthorized))

		By("accepting only the new password")
		resp, _ = login(curatorEmail, curatorPassword)
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		resp, fresh := login(curatorEmail, newPassword)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(call(http.MethodGet, "/auth/me", fresh.Tokens.AccessToken, nil, nil).StatusCode).To(Equal(http.StatusOK))

		By("refusing to reuse the token")
		resp = call(http.MethodPost, "/auth/password/reset", "",
			map[string]string{"token": link.token, "password": "Another$Frame93"}, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("rejects a weak replacement password and keeps the token usable", func() {
		call(http.MethodPost, "/auth/password/forgot", "", map[string]string{"email": curatorEmail}, nil)
		link := env.sink.lastLink()

		var weak struct {
			Error      string   `json:"error"`
			Violations []string `json:"violations"`
		}
		resp := call(http.MethodPost, "/auth/password/reset", "",
			map[string]string{"token": link.token, "password": "short"}, &weak)
		Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		Expect(weak.Error).To(Equal(string(auth.KindWeakPassword)))

		resp = call(http.MethodPost, "/auth/password/reset/validate", "", map[string]string{"token": link.token}, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
	})

	It("answers unknown emails like known ones without sending anything", func() {
		resp := call(http.MethodPost, "/auth/password/forgot", "", map[string]string{"email": "ghost@example.com"}, nil)
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		env.sink.mu.Lock()
		defer env.sink.mu.Unlock()
		Expect(env.sink.links).To(BeEmpty())
	})

	It("supersedes an earlier token with a newer request", func() {
		call(http.MethodPost, "/auth/password/forgot", "", map[string]string{"email": curatorEmail}, nil)
		first := env.sink.lastLink()
		call(http.MethodPost, "/auth/password/forgot", "", map[string]string{"email": curatorEmail}, nil)
		second := env.sink.lastLink()
		Expect(second.token).NotTo(Equal(first.token))

		Expect(call(http.MethodPost, "/auth/password/reset/validate", "", map[string]string{"token": first.token}, nil).StatusCode).
			To(Equal(http.StatusBadRequest))
		Expect(call(http.MethodPost, "/auth/password/reset/validate", "", map[string]string{"token": second.token}, nil).StatusCode).
			To(Equal(http.StatusNoContent))
	})
})
