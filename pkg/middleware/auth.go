package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/redback/pkg/httputil"
	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/rbac"
)

// DefaultPrincipalHeader is set by the authenticating proxy in front of the API
const DefaultPrincipalHeader = "X-Remote-User"

// PrincipalMiddleware takes the caller's principal from a header set by a
// trusted authenticating proxy
type PrincipalMiddleware struct {
	header   string
	optional bool
}

// NewPrincipalMiddleware creates the middleware. An empty header means
// DefaultPrincipalHeader. When optional is true, requests without the header
// pass through anonymously.
func NewPrincipalMiddleware(header string, optional bool) *PrincipalMiddleware {
	if header == "" {
		header = DefaultPrincipalHeader
	}
	return &PrincipalMiddleware{header: header, optional: optional}
}

// Handler wraps an HTTP handler with principal extraction
func (m *PrincipalMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := strings.TrimSpace(r.Header.Get(m.header))
		if principal == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "missing "+m.header+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(observability.WithPrincipal(r.Context(), principal)))
	})
}

// RequirePermission rejects callers that are not granted operation on
// resource. It must run after PrincipalMiddleware.
func RequirePermission(checker *rbac.Checker, operation, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := observability.GetPrincipal(r.Context())
			if principal == "" {
				httputil.WriteErrorMessage(w, http.StatusForbidden, "authentication required")
				return
			}

			result, err := checker.CheckPermission(r.Context(), rbac.PermissionCheck{
				Principal: principal,
				Operation: operation,
				Resource:  resource,
			})
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Warn("Permission check failed")
				httputil.WriteError(w, err)
				return
			}
			if !result.Allowed {
				observability.FromContext(r.Context()).WithFields(map[string]interface{}{
					"operation": operation,
					"resource":  resource,
				}).Info("Access denied")
				httputil.WriteErrorMessage(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
