// Package appstub stands in for the out-of-scope landing/status
// application (spec §1's "Out of scope" list): whatever a real deployment
// mounts at the base domain and www subdomain. It is deliberately minimal —
// a placeholder landing page at "/", and an HTML 404 for anything else, including what the
// Subdomain Router classifies as "not a valid workspace subdomain"
// (spec §7).
package appstub

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

const notWorkspaceBody = `<!doctype html>
<html><head><title>Not found</title></head>
<body><h1>Not a valid workspace subdomain</h1>
<p>This host does not address a running workspace.</p>
</body></html>`

// NewRouter builds the fallback application router.
func NewRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<!doctype html><html><body><h1>workspace gateway</h1></body></html>`))
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(notWorkspaceBody))
	})

	return r
}
