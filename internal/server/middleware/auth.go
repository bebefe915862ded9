package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Tokens are issued by the external identity service. This process only
// verifies them: HS256 signature, then the uid and workspace-access claims.
type jwtClaims struct {
	jwt.RegisteredClaims
	UserID     string   `json:"uid"`
	Workspaces []string `json:"wsp"`
}

// Auth verifies the bearer token and places the user id and workspace
// access set into the request context.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := extractBearer(r)
			if tok == "" {
				unauthorized(w)
				return
			}

			ctx, ok := authenticateJWT(r.Context(), tok, jwtSecret)
			if !ok {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireWorkspace resolves the active workspace from the X-Workspace-ID
// header and rejects callers whose token does not grant access to it. Every
// store read below this point is scoped by the workspace it sets.
func RequireWorkspace() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := WorkspaceAccessFromContext(r.Context())
			if !ok || len(access) == 0 {
				forbidden(w)
				return
			}

			header := r.Header.Get("X-Workspace-ID")

			var workspaceID uuid.UUID
			if header == "" {
				// Single-workspace tokens may omit the header.
				if len(access) != 1 {
					forbidden(w)
					return
				}
				workspaceID = access[0]
			} else {
				parsed, err := uuid.Parse(header)
				if err != nil {
					forbidden(w)
					return
				}
				granted := false
				for _, id := range access {
					if id == parsed {
						granted = true
						break
					}
				}
				if !granted {
					forbidden(w)
					return
				}
				workspaceID = parsed
			}

			ctx := context.WithValue(r.Context(), ContextKeyWorkspaceID, workspaceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth[7:]
	}
	return ""
}

func authenticateJWT(ctx context.Context, tokenStr, secret string) (context.Context, bool) {
	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return ctx, false
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return ctx, false
	}

	access := make([]uuid.UUID, 0, len(claims.Workspaces))
	for _, raw := range claims.Workspaces {
		id, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			return ctx, false
		}
		access = append(access, id)
	}

	ctx = context.WithValue(ctx, ContextKeyUserID, userID)
	ctx = context.WithValue(ctx, ContextKeyWorkspaces, access)
	return ctx, true
}

func unauthorized(w http.ResponseWriter) {
	http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
}

func forbidden(w http.ResponseWriter) {
	http.Error(w, `{"title":"Forbidden","status":403,"detail":"workspace access required"}`, http.StatusForbidden)
}
