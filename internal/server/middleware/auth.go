package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// wsPath is the websocket endpoint. Browsers cannot set headers on a
// websocket handshake, so it alone accepts ?token=.
const wsPath = "/ws"

// Auth requires the operator API key as a Bearer token or X-API-Key header.
// An empty apiKey disables the check. Paths in public and CORS preflights
// pass through.
func Auth(apiKey string, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, isPublic := open[r.URL.Path]
			if apiKey == "" || isPublic || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := requestToken(r)
			switch {
			case token == "":
				denyJSON(w, http.StatusUnauthorized, "missing api key")
			case subtle.ConstantTimeCompare([]byte(token), want) != 1:
				denyJSON(w, http.StatusUnauthorized, "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func requestToken(r *http.Request) string {
	if scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if r.URL.Path == wsPath {
		return r.URL.Query().Get("token")
	}
	return ""
}

// denyJSON writes the {"error": msg} body the API handlers use.
func denyJSON(w http.ResponseWriter, status int, msg string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="reconbot"`)
	}
	body, _ := json.Marshal(map[string]string{"error": msg})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}
