// Package httputil provides the JSON request and response helpers and the
// middleware shared by the admin API.
//
// Errors returned by an rbac.Manager are mapped onto statuses by StatusFor:
// not found becomes 404, invalid input 400, directory failures 502 and
// anything else 500.
//
//	role, err := manager.GetRole(r.Context(), name)
//	if err != nil {
//		httputil.WriteError(w, err)
//		return
//	}
//	httputil.WriteSuccess(w, role)
package httputil
