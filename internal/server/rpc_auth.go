package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// codeUnauthorized is reported in the JSON-RPC body of a rejected request.
const codeUnauthorized = -32600

// requireToken rejects requests whose Authorization header does not carry
// "Bearer <secret>". The rejection is a JSON-RPC error object with HTTP
// status 401 so both the HTTP and the websocket clients can decode it.
//
// An empty secret rejects everything: the control plane is opt-in.
func requireToken(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if validToken(secret, r.Header.Get("Authorization")) {
			next.ServeHTTP(w, r)
			return
		}
		writeUnauthorized(w)
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"error": map[string]any{
			"code":    codeUnauthorized,
			"message": "Unauthorized",
		},
		"id": nil,
	})
}

// validToken compares the bearer token with secret in constant time.
func validToken(secret, authHeader string) bool {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if secret == "" || !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

// bearer formats the Authorization header value for secret.
func bearer(secret string) string {
	return "Bearer " + secret
}
