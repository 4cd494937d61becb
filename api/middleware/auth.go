package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/partner-dispatch/api/responses"
	pkgAuth "github.com/angelmondragon/partner-dispatch/pkg/auth"
	"github.com/angelmondragon/partner-dispatch/pkg/config"
	pkgerrors "github.com/angelmondragon/partner-dispatch/pkg/errors"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the claims.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			actorID := claims.ActorID.String()
			ctx := WithActor(r.Context(), actorID, claims.Role)
			if logg != nil {
				ctx = logg.WithActorID(ctx, actorID)
				ctx = logg.WithActorRole(ctx, string(claims.Role))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
