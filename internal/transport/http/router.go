package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewRouter configures the API and artifact routes. allowedOrigins applies
// to the JSON API; artifacts are always served to any origin.
func NewRouter(handler *Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	api := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})

	r := mux.NewRouter().UseEncodedPath()
	r.Handle("/convert", api.Handler(http.HandlerFunc(handler.Convert))).Methods("POST")
	r.Handle("/convert", api.Handler(http.HandlerFunc(handler.Preflight))).Methods("OPTIONS")
	r.Handle("/jobs/{fingerprint}", api.Handler(http.HandlerFunc(handler.JobStatus))).Methods("GET", "OPTIONS")
	r.HandleFunc("/streams/{fingerprint}/{filename}", handler.ServeArtifact).Methods("GET", "HEAD")
	r.HandleFunc("/healthz", handler.Healthz).Methods("GET")
	r.Use(handler.requestContext)
	return r
}
