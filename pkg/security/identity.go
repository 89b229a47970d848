package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"earnhub/pkg/config"
	"earnhub/pkg/logger"
	"earnhub/pkg/utils"
)

type ctxAuthorKey struct{}

// SignUserID computes the hex HMAC-SHA256 of the user id under the given
// signing key. The session login handler issues this token; clients echo
// it back in X-User-Signature.
func SignUserID(key, userID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// RequireSignedAuthor verifies HMAC signature headers and injects the
// verified author id into the request context. Backend and admin callers
// may omit the signature and supply an author explicitly.
func RequireSignedAuthor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Role-Name")
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		sig := strings.TrimSpace(r.Header.Get("X-User-Signature"))

		if (role == "backend" || role == "admin") && sig == "" {
			next.ServeHTTP(w, r)
			return
		}

		if sig == "" || userID == "" {
			logger.Warn("missing_signature_headers", "path", r.URL.Path, "remote", r.RemoteAddr)
			utils.JSONError(w, http.StatusUnauthorized, "missing signature headers")
			return
		}

		keys := config.GetSigningKeys()
		if len(keys) == 0 {
			logger.Error("no_signing_keys_configured")
			utils.JSONError(w, http.StatusInternalServerError, "server misconfigured: no signing secrets available")
			return
		}

		ok := false
		for k := range keys {
			expected := SignUserID(k, userID)
			if hmac.Equal([]byte(expected), []byte(sig)) {
				ok = true
				break
			}
		}
		if !ok {
			logger.Warn("invalid_signature", "user", userID)
			utils.JSONError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		ctx := context.WithValue(r.Context(), ctxAuthorKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthorIDFromContext returns the verified author id or empty string.
func AuthorIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxAuthorKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func validateAuthor(a string) (bool, string) {
	if a == "" {
		return false, "author required"
	}
	if len(a) > 128 {
		return false, "author too long"
	}
	return true, ""
}

// ResolveAuthorFromRequest is the canonical resolver handlers call. A
// signature-verified author in context is authoritative; any conflicting
// author from header, query or body is rejected. Without a signature,
// backend and admin callers may name the author via body, X-User-ID or
// query. Frontend callers always need a signature.
func ResolveAuthorFromRequest(r *http.Request, bodyAuthor string) (string, int, string) {
	if id := AuthorIDFromContext(r.Context()); id != "" {
		if q := strings.TrimSpace(r.URL.Query().Get("author")); q != "" && q != id {
			logger.Warn("author_mismatch_signature_query", "signature", id, "query", q, "path", r.URL.Path)
			return "", http.StatusForbidden, "author mismatch between signature and query param"
		}
		if h := strings.TrimSpace(r.Header.Get("X-User-ID")); h != "" && h != id {
			logger.Warn("author_mismatch_signature_header", "signature", id, "header", h, "path", r.URL.Path)
			return "", http.StatusForbidden, "author mismatch between signature and header"
		}
		if bodyAuthor != "" && bodyAuthor != id {
			logger.Warn("author_mismatch_signature_body", "signature", id, "body", bodyAuthor, "path", r.URL.Path)
			return "", http.StatusForbidden, "author mismatch between signature and body author"
		}
		return id, 0, ""
	}

	role := r.Header.Get("X-Role-Name")
	if role == "backend" || role == "admin" {
		for _, candidate := range []string{bodyAuthor, strings.TrimSpace(r.Header.Get("X-User-ID")), strings.TrimSpace(r.URL.Query().Get("author"))} {
			if candidate == "" {
				continue
			}
			if ok, msg := validateAuthor(candidate); !ok {
				logger.Warn("invalid_backend_author", "user", candidate, "path", r.URL.Path)
				return "", http.StatusBadRequest, msg
			}
			return candidate, 0, ""
		}
		logger.Warn("backend_missing_author", "remote", r.RemoteAddr, "path", r.URL.Path)
		return "", http.StatusBadRequest, "author required for backend requests"
	}

	logger.Warn("missing_author_signature", "role", role, "path", r.URL.Path)
	return "", http.StatusUnauthorized, "missing or invalid author signature"
}
