package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows the app's web and Expo dev clients to call the API.
//
// An empty origins list, or one containing "*", allows every origin. That
// matches how the backend has always run in development. Credentials
// (the session cookie) are only allowed for explicitly listed origins.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !allowAll,
		MaxAge:           300,
	})
}
