package principal

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Headers the edge gateway is expected to set on every request once it has
// authenticated the caller. The core never validates credentials itself.
const (
	HeaderCompanyID = "X-Company-ID"
	HeaderType      = "X-Principal-Type"
	HeaderRole      = "X-Principal-Role"
)

// Middleware resolves a Principal from trusted request headers and stores it
// in the request context. It does not itself authenticate anything; it
// trusts that whatever sits in front of this service (an API gateway, a
// sidecar) has already verified the caller and is the only thing allowed to
// set these headers.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			companyIDRaw := r.Header.Get(HeaderCompanyID)
			if companyIDRaw == "" {
				respondUnauthorized(w, "missing principal")
				return
			}

			companyID, err := uuid.Parse(companyIDRaw)
			if err != nil {
				logger.Warn("principal middleware: invalid company id header", "value", companyIDRaw)
				respondUnauthorized(w, "invalid principal")
				return
			}

			pType := Type(r.Header.Get(HeaderType))
			if pType != TypeAgent && pType != TypeSystem {
				pType = TypeAgent
			}

			p := &Principal{
				CompanyID: companyID,
				Type:      pType,
				Role:      r.Header.Get(HeaderRole),
			}

			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), p)))
		})
	}
}

// RequireAuth rejects requests with no resolved Principal. Middleware above
// already rejects missing headers, but handlers mounted without it (tests,
// alternate routers) should still fail closed.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			respondUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// respondUnauthorized writes a minimal JSON error body. Kept free of any
// dependency on the httpserver package to avoid an import cycle (server.go
// mounts this middleware).
func respondUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": message})
}
