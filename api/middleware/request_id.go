package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/partner-dispatch/api/responses"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
)

// correlationHeader is set by upstream services (order, delivery) that already
// track a flow id; it is reused as the request id when no X-Request-Id came in.
const correlationHeader = "X-Correlation-Id"

const maxRequestIDLength = 128

func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := inboundRequestID(r)
			w.Header().Set(responses.RequestIDHeader, reqID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func inboundRequestID(r *http.Request) string {
	for _, header := range []string{responses.RequestIDHeader, correlationHeader} {
		if id := r.Header.Get(header); validRequestID(id) {
			return id
		}
	}
	return uuid.NewString()
}

// validRequestID accepts printable ASCII only so ids are safe to echo and log.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
