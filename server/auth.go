package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/richinex/agentdock/internal/errs"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserIDClaim is the claim holding the caller's id. Tokens without it
// fall back to the subject.
const UserIDClaim = "userId"

// authMiddleware verifies an HS256 bearer token and stores the user id.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			s.writeError(w, r, errs.New(errs.CodeUnauthorized, "missing Authorization header"))
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			s.writeError(w, r, errs.New(errs.CodeUnauthorized, "expected Authorization: Bearer <token>"))
			return
		}

		userID, err := s.verify(strings.TrimSpace(raw))
		if err != nil {
			s.writeError(w, r, errs.Wrap(errs.CodeUnauthorized, err, "invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) verify(token string) (string, error) {
	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, []byte(s.config.JWTSecret)),
		jwt.WithValidate(true),
	)
	if err != nil {
		return "", err
	}
	if v, ok := parsed.Get(UserIDClaim); ok {
		if id, ok := v.(string); ok && id != "" {
			return id, nil
		}
	}
	if sub := parsed.Subject(); sub != "" {
		return sub, nil
	}
	return "", errs.New(errs.CodeUnauthorized, "token has no user id")
}

// userID returns the authenticated caller.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
