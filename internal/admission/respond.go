package admission

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openadmission/gatekeeper/internal/ratelimit"
)

type authErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type rateLimitBody struct {
	Error string `json:"error"`
	Limit int    `json:"limit"`
	Reset int64  `json:"reset"`
}

// setRateHeaders writes the quota headers. They accompany every
// rate-checked response, allowed or denied, so clients always see their
// quota state.
func setRateHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
}

func unauthorized(w http.ResponseWriter, realm, message string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", realm))
	writeJSON(w, http.StatusUnauthorized, authErrorBody{
		Error:   "unauthorized",
		Message: message,
	})
}

func tooManyRequests(w http.ResponseWriter, res ratelimit.Result) {
	retry := int(time.Until(res.Reset).Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeJSON(w, http.StatusTooManyRequests, rateLimitBody{
		Error: "rate limit exceeded",
		Limit: res.Limit,
		Reset: res.Reset.Unix(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// wantsHTML reports whether the request originates from a browser
// navigation rather than an API client.
func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
