package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// maxBodyBytes bounds request bodies on the HTTP runtime. API Gateway enforces
// its own limit for Lambda.
const maxBodyBytes = 1 << 20

// Router returns a gorilla/mux router serving the same routes as Handle, plus
// /metrics when a metrics handler is configured.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}
	for _, rt := range routes {
		r.Handle(rt.pattern, h.adapt(rt))
	}
	r.NotFoundHandler = h.adapt(nil)
	return r
}

// adapt turns a route into an http.Handler. Method checks stay in serve so
// 405 and preflight responses look the same on both runtimes.
func (h *Handler) adapt(rt *route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			// Oversized or broken bodies surface as invalid JSON.
			body = []byte{'{'}
		}

		headers := make(map[string]string, len(r.Header))
		for k, v := range r.Header {
			if len(v) > 0 {
				headers[strings.ToLower(k)] = v[0]
			}
		}

		status, respHeaders, respBody := h.serve(r.Context(), rt, request{
			method:  r.Method,
			path:    r.URL.Path,
			headers: headers,
			body:    string(body),
			vars:    mux.Vars(r),
		})

		for k, v := range respHeaders {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		if respBody != "" {
			_, _ = io.WriteString(w, respBody)
		}
	})
}
