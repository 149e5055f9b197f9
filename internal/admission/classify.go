package admission

import (
	"sort"
	"strings"
)

// RouteClass is the admission treatment a path receives.
type RouteClass int

const (
	// Public paths are forwarded untouched.
	Public RouteClass = iota
	// SessionProtected paths require a resolvable session.
	SessionProtected
	// RateLimited paths are counted against a per-identifier window.
	RateLimited
)

func (c RouteClass) String() string {
	switch c {
	case SessionProtected:
		return "session"
	case RateLimited:
		return "rate_limited"
	default:
		return "public"
	}
}

type rule struct {
	prefix string
	class  RouteClass
}

// Classifier maps request paths to route classes by longest matching
// prefix. Rule sets are configuration, not logic.
type Classifier struct {
	rules []rule
}

// NewClassifier builds a Classifier from per-class path prefix lists.
func NewClassifier(public, session, rateLimited []string) *Classifier {
	var rules []rule
	for _, p := range public {
		rules = append(rules, rule{prefix: p, class: Public})
	}
	for _, p := range session {
		rules = append(rules, rule{prefix: p, class: SessionProtected})
	}
	for _, p := range rateLimited {
		rules = append(rules, rule{prefix: p, class: RateLimited})
	}
	// Longest prefix first so /api/v1/health can stay public inside a
	// rate-limited /api/ subtree.
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].prefix) > len(rules[j].prefix)
	})
	return &Classifier{rules: rules}
}

// Classify returns the route class for path. Unmatched paths are
// public.
func (c *Classifier) Classify(path string) RouteClass {
	for _, r := range c.rules {
		if strings.HasPrefix(path, r.prefix) {
			return r.class
		}
	}
	return Public
}
