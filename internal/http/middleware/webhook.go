package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"

	"github.com/fitlane/chatroom/internal/httputil"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw request
// body, computed with the secret shared with the chat provider.
const SignatureHeader = "X-Webhook-Signature"

// WebhookSignature creates middleware that verifies the provider's webhook
// signature over the raw body. The body is restored for downstream handlers.
func WebhookSignature(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			signature := r.Header.Get(SignatureHeader)
			if signature == "" {
				httputil.Error(w, http.StatusUnauthorized, "missing webhook signature")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				httputil.Error(w, http.StatusBadRequest, "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			mac := hmac.New(sha256.New, secret)
			mac.Write(body)
			expected := hex.EncodeToString(mac.Sum(nil))

			if !hmac.Equal([]byte(signature), []byte(expected)) {
				if logger != nil {
					logger.Warn("webhook signature mismatch",
						"ip", r.RemoteAddr,
						"path", r.URL.Path,
					)
				}
				httputil.Error(w, http.StatusUnauthorized, "invalid webhook signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
