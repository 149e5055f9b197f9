package admission

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openadmission/gatekeeper/internal/apikey"
	"github.com/openadmission/gatekeeper/internal/metrics"
	"github.com/openadmission/gatekeeper/internal/ratelimit"
	"github.com/openadmission/gatekeeper/pkg/models"
)

// SessionResolver resolves a session credential to a subject id.
// Session storage belongs to the surrounding application; the gate only
// orchestrates the outcome.
type SessionResolver func(r *http.Request) (uuid.UUID, bool)

// GateConfig wires a Gate's collaborators and policy knobs.
type GateConfig struct {
	Classifier *Classifier
	Manager    *apikey.Manager
	Limiter    *ratelimit.Limiter
	Metrics    *metrics.Metrics
	Sessions   SessionResolver
	Resolvers  []Resolver

	Realm     string
	LoginPath string

	// Per-class window limits.
	APILimit       int
	AnonymousLimit int

	// Bounds the key-lookup round trip during bearer validation.
	StoreTimeout time.Duration
}

// Gate is the per-request admission orchestrator. Each request moves
// linearly through classification, identity resolution, and rate
// checking; there are no cross-request locks, so the gate is safe for
// arbitrary request concurrency.
type Gate struct {
	cfg GateConfig
}

// NewGate creates a Gate.
func NewGate(cfg GateConfig) *Gate {
	if len(cfg.Resolvers) == 0 {
		cfg.Resolvers = DefaultResolvers()
	}
	return &Gate{cfg: cfg}
}

// Admit is the admission middleware. Terminal outcomes: forwarded,
// 401, 429, or a login redirect.
func (g *Gate) Admit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := g.cfg.Classifier.Classify(r.URL.Path)

		switch class {
		case SessionProtected:
			g.admitSession(class, next, w, r)
		case RateLimited:
			g.admitRateLimited(class, next, w, r)
		default:
			g.forward(class, next, w, r)
		}
	})
}

// admitSession gates browser-facing paths. No rate limiting applies on
// this branch.
func (g *Gate) admitSession(class RouteClass, next http.Handler, w http.ResponseWriter, r *http.Request) {
	if g.cfg.Sessions != nil {
		if userID, ok := g.cfg.Sessions(r); ok {
			r = r.WithContext(WithAuthContext(r.Context(), &models.AuthContext{UserID: userID}))
			g.forward(class, next, w, r)
			return
		}
	}

	if wantsHTML(r) {
		g.cfg.Metrics.RecordDecision(class.String(), "redirected")
		http.Redirect(w, r, g.cfg.LoginPath, http.StatusFound)
		return
	}

	g.cfg.Metrics.RecordDecision(class.String(), "rejected_401")
	unauthorized(w, g.cfg.Realm, "Authentication required")
}

// admitRateLimited gates API paths: optional bearer or session auth,
// then a window check keyed on the derived identifier.
func (g *Gate) admitRateLimited(class RouteClass, next http.Handler, w http.ResponseWriter, r *http.Request) {
	if token, present := bearerToken(r); present {
		authed, ok := g.authenticate(w, r, token)
		if !ok {
			g.cfg.Metrics.RecordDecision(class.String(), "rejected_401")
			return
		}
		r = authed
	} else if g.cfg.Sessions != nil {
		// A session identity counts too, so the subject rather than
		// the client address keys the window and handlers can act on
		// behalf of a logged-in user who holds no key yet.
		if userID, ok := g.cfg.Sessions(r); ok {
			r = r.WithContext(WithAuthContext(r.Context(), &models.AuthContext{UserID: userID}))
		}
	}

	identifier := ResolveIdentifier(r, g.cfg.Resolvers)
	limit := g.cfg.AnonymousLimit
	if _, ok := GetAuthContext(r); ok {
		limit = g.cfg.APILimit
	}

	res := g.cfg.Limiter.Check(r.Context(), r.URL.Path, identifier, limit)
	setRateHeaders(w, res)

	if !res.Allowed {
		g.cfg.Metrics.RecordDecision(class.String(), "rejected_429")
		tooManyRequests(w, res)
		return
	}

	g.forward(class, next, w, r)
}

// authenticate validates a bearer token and attaches the resulting
// identity. A store failure fails closed: an unauthenticatable request
// is never treated as authenticated.
func (g *Gate) authenticate(w http.ResponseWriter, r *http.Request, token string) (*http.Request, bool) {
	ctx := r.Context()
	if g.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.StoreTimeout)
		defer cancel()
	}

	ac, err := g.cfg.Manager.Validate(ctx, token)
	if err != nil {
		g.cfg.Metrics.RecordStoreFailure("apikey")
		log.Error().Err(err).Msg("api key lookup failed")
		unauthorized(w, g.cfg.Realm, "Invalid API key")
		return nil, false
	}
	if ac == nil {
		unauthorized(w, g.cfg.Realm, "Invalid API key")
		return nil, false
	}

	g.cfg.Manager.RecordUsage(ac.KeyID)
	return r.WithContext(WithAuthContext(r.Context(), ac)), true
}

func (g *Gate) forward(class RouteClass, next http.Handler, w http.ResponseWriter, r *http.Request) {
	g.cfg.Metrics.RecordDecision(class.String(), "forwarded")
	next.ServeHTTP(w, r)
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
