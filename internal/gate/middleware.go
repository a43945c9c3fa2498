package gate

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"aichat/internal/metrics"
	"aichat/internal/session"
)

// FailurePolicy picks the toggle value when the store cannot be read.
type FailurePolicy string

const (
	PolicyOpen   FailurePolicy = "open"
	PolicyEnv    FailurePolicy = "env"
	PolicyClosed FailurePolicy = "closed"
)

func ParsePolicy(raw string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicyOpen, nil
	case PolicyOpen, PolicyEnv, PolicyClosed:
		return p, nil
	default:
		return "", fmt.Errorf("unknown gate store failure policy %q", raw)
	}
}

type ToggleSource interface {
	GlobalAuthEnabled(ctx context.Context) (enabled bool, found bool, err error)
}

type SessionChecker interface {
	FromRequest(r *http.Request, aud session.Audience) bool
}

type Options struct {
	Store    ToggleSource
	Sessions SessionChecker
	// EnvEnabled is ENABLE_GLOBAL_AUTH, used when the store has no value.
	EnvEnabled    bool
	FailurePolicy FailurePolicy
	ExemptPaths   []string
	Logger        zerolog.Logger
}

type Gate struct {
	opts Options
	m    *metrics.Metrics
}

func New(opts Options) *Gate {
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = PolicyOpen
	}
	return &Gate{opts: opts, m: metrics.Global()}
}

// GlobalAuthEnabled resolves the toggle: stored value, else env fallback.
// ok is false when the store failed under the open policy, meaning the site
// check is skipped for this request.
func (g *Gate) GlobalAuthEnabled(ctx context.Context) (enabled bool, ok bool) {
	stored, found, err := g.opts.Store.GlobalAuthEnabled(ctx)
	if err == nil {
		if found {
			return stored, true
		}
		return g.opts.EnvEnabled, true
	}

	g.m.GateStoreErrors.Inc()
	g.opts.Logger.Error().Err(err).Str("policy", string(g.opts.FailurePolicy)).Msg("gate could not read global auth toggle")
	switch g.opts.FailurePolicy {
	case PolicyEnv:
		return g.opts.EnvEnabled, true
	case PolicyClosed:
		return true, true
	default:
		return false, false
	}
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := Classify(r.URL.Path, g.opts.ExemptPaths...)
		in := Input{Path: r.URL.Path}
		if class == ClassAdmin {
			in.AdminValid = g.opts.Sessions.FromRequest(r, session.Admin)
		}
		if class.NeedsGlobalCheck() && (class != ClassAdmin || in.AdminValid) {
			if enabled, ok := g.GlobalAuthEnabled(r.Context()); ok && enabled {
				in.GlobalAuth = true
				in.SiteValid = g.opts.Sessions.FromRequest(r, session.Site)
			}
		}

		d := decide(class, in)
		g.m.GateDecisions.WithLabelValues(string(d.Action)).Inc()
		switch d.Action {
		case Reject:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(d.Status)
			_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
		case Redirect:
			target := d.Target
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, target, d.Status)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
