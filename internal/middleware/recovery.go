package middleware

import (
	"net/http"
	"runtime/debug"

	"microhub-redistribution-api/pkg/apierror"
	"microhub-redistribution-api/pkg/response"

	"github.com/rs/zerolog"
)

// Recovery is a middleware that recovers from panics.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				zerolog.Ctx(r.Context()).Error().
					Interface("panic", err).
					Bytes("stack", debug.Stack()).
					Msg("recovered from panic")

				response.Error(w, apierror.InternalError("internal server error"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
