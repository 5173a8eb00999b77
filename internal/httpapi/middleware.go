package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/jordanhubbard/cascade/internal/store"
)

type contextKey string

const keyRecordContextKey contextKey = "apikey_record"

// authMiddleware validates the Authorization bearer token (or X-API-Key
// header) and attaches the key record to the request context. When no key
// manager is configured, requests pass through unauthenticated.
func authMiddleware(d Dependencies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d.APIKeyMgr == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" {
				http.Error(w, "missing api key", http.StatusUnauthorized)
				return
			}
			rec, err := d.APIKeyMgr.Validate(r.Context(), key)
			if err != nil {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), keyRecordContextKey, rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// keyRecord returns the authenticated key record, or nil.
func keyRecord(r *http.Request) *store.APIKeyRecord {
	rec, _ := r.Context().Value(keyRecordContextKey).(*store.APIKeyRecord)
	return rec
}
