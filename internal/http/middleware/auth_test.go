package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSecret = "test-signing-secret-for-services"
	testIssuer = "chatroom"
)

func issueToken(t *testing.T, secret, issuer, subject string, scopes []string, ttl time.Duration) string {
	t.Helper()
	claims := ServiceClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestAuth(t *testing.T) {
	var gotCaller string
	handler := Auth([]byte(testSecret), testIssuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCaller, _ = GetCaller(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{
			name:       "valid token",
			header:     "Bearer " + issueToken(t, testSecret, testIssuer, "booking-service", nil, time.Minute),
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing header",
			header:     "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed header",
			header:     "Token abc",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong secret",
			header:     "Bearer " + issueToken(t, "another-secret-entirely-32-chars", testIssuer, "booking-service", nil, time.Minute),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong issuer",
			header:     "Bearer " + issueToken(t, testSecret, "someone-else", "booking-service", nil, time.Minute),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired token",
			header:     "Bearer " + issueToken(t, testSecret, testIssuer, "booking-service", nil, -time.Minute),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/rooms/resolve", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && gotCaller != "booking-service" {
				t.Errorf("caller = %q, want %q", gotCaller, "booking-service")
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	protected := Auth([]byte(testSecret), testIssuer)(
		RequireScope("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})),
	)

	tests := []struct {
		name       string
		scopes     []string
		wantStatus int
	}{
		{"has scope", []string{"admin"}, http.StatusOK},
		{"has scope among others", []string{"rooms", "admin"}, http.StatusOK},
		{"missing scope", []string{"rooms"}, http.StatusForbidden},
		{"no scopes", nil, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/admin/audit", nil)
			req.Header.Set("Authorization", "Bearer "+issueToken(t, testSecret, testIssuer, "ops", tt.scopes, time.Minute))
			w := httptest.NewRecorder()
			protected.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
