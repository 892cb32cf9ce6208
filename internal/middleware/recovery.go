package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/geomarkapp/geomark/internal/logging"
	"github.com/geomarkapp/geomark/pkg/apierror"
)

// Recovery is a middleware that recovers from panics.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logging.Error("Panic in handler", fmt.Errorf("%v", err),
					map[string]interface{}{
						"path":  r.URL.Path,
						"stack": string(debug.Stack()),
					})

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write(apierror.InternalError("internal server error").ToJSON())
			}
		}()

		next.ServeHTTP(w, r)
	})
}
