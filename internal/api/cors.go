package api

import (
	"net/http"

	"github.com/rs/cors"

	"github.com/Stanislav-Kankin/idle-company-game/internal/config"
)

// wildcardMethods is the expansion of the "*" wildcard for allowed
// methods. Browsers ignore a literal "*" in Access-Control-Allow-Methods
// on credentialed requests, so the wildcard has to become an explicit
// list.
var wildcardMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// buildCORS translates the configured policy into an rs/cors wrapper.
// rs/cors handles the "*" headers wildcard natively by reflecting the
// requested headers; only the methods wildcard needs expanding here.
func buildCORS(cfg config.CORSConfig) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: cfg.AllowCredentials,
		AllowedMethods:   expandMethods(cfg.AllowedMethods),
		AllowedHeaders:   cfg.AllowedHeaders,
	})
}

func expandMethods(methods []string) []string {
	for _, m := range methods {
		if m == "*" {
			return wildcardMethods
		}
	}
	return methods
}
