package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/openscribe/scribe-service/internal/utils/response"
)

// EngineAuth guards the callback routes the transcription engine posts
// results to. The engine authenticates with a shared token rather than
// a user JWT.
func EngineAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Engine-Token")
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(
					errors.New("invalid engine token")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
