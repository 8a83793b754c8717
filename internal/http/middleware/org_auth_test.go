package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/casecurrentai/casecurrent/internal/tenancy"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret string, claims OrgClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestOrgJWTInjectsTenancy(t *testing.T) {
	orgID, userID := uuid.NewString(), uuid.NewString()
	token := signToken(t, testSecret, OrgClaims{
		OrgID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	var gotOrg, gotUser string
	handler := OrgJWT(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg, _ = tenancy.OrgIDFromContext(r.Context())
		gotUser, _ = tenancy.UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/oncall", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotOrg != orgID || gotUser != userID {
		t.Errorf("tenancy not injected: org=%q user=%q", gotOrg, gotUser)
	}
}

func TestOrgJWTAcceptsQueryToken(t *testing.T) {
	orgID := uuid.NewString()
	token := signToken(t, testSecret, OrgClaims{
		OrgID:            orgID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})

	var gotOrg string
	handler := OrgJWT(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg, _ = tenancy.OrgIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotOrg != orgID {
		t.Errorf("tenancy not injected from query token: org=%q", gotOrg)
	}
}

func TestOrgJWTRejections(t *testing.T) {
	valid := signToken(t, testSecret, OrgClaims{
		OrgID:            uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})

	cases := []struct {
		name   string
		secret string
		header string
	}{
		{"missing header", testSecret, ""},
		{"malformed header", testSecret, "Token abc"},
		{"wrong secret", testSecret, "Bearer " + signToken(t, "other-secret", OrgClaims{OrgID: uuid.NewString()})},
		{"missing org claim", testSecret, "Bearer " + signToken(t, testSecret, OrgClaims{})},
		{"auth disabled", "", "Bearer " + valid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := OrgJWT(tc.secret)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Error("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/oncall", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestOrgJWTRejectsExpiredToken(t *testing.T) {
	token := signToken(t, testSecret, OrgClaims{
		OrgID:            uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	handler := OrgJWT(testSecret)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/oncall", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
