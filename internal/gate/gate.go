package gate

import (
	"net/http"
	"strings"
)

type Action string

const (
	Allow    Action = "allow"
	Redirect Action = "redirect"
	Reject   Action = "reject"
)

const (
	AdminLoginPath = "/admin/login"
	SiteLoginPath  = "/login"
	ChatPath       = "/api/chat"
)

// Class is how the gate sees a path before any session or toggle is known.
type Class int

const (
	// ClassExempt paths are never gated.
	ClassExempt Class = iota
	// ClassAdminLogin skips both the admin and the global check.
	ClassAdminLogin
	// ClassAdmin needs an admin session, then passes the global check.
	ClassAdmin
	// ClassSiteLogin is always reachable.
	ClassSiteLogin
	// ClassPage is any non-API path under the global check.
	ClassPage
	// ClassChat is the chat endpoint under the global check.
	ClassChat
	// ClassAPI routes authorize themselves.
	ClassAPI
)

type Input struct {
	Path       string
	AdminValid bool
	SiteValid  bool
	GlobalAuth bool
}

type Decision struct {
	Action Action
	Target string
	Status int
}

var exemptPrefixes = []string{"/api/auth"}

// Classify buckets a request path. extraExempt holds exact paths such as the
// health and metrics endpoints.
func Classify(path string, extraExempt ...string) Class {
	for _, p := range extraExempt {
		if p != "" && path == p {
			return ClassExempt
		}
	}
	if path == "/favicon.ico" {
		return ClassExempt
	}
	for _, p := range exemptPrefixes {
		if strings.HasPrefix(path, p) {
			return ClassExempt
		}
	}
	switch {
	case path == AdminLoginPath:
		return ClassAdminLogin
	case path == "/admin" || strings.HasPrefix(path, "/admin/"):
		return ClassAdmin
	case path == SiteLoginPath:
		return ClassSiteLogin
	case strings.HasPrefix(path, ChatPath):
		return ClassChat
	case path == "/api" || strings.HasPrefix(path, "/api/"):
		return ClassAPI
	default:
		return ClassPage
	}
}

// NeedsGlobalCheck reports whether the toggle has to be read for this class.
func (c Class) NeedsGlobalCheck() bool {
	return c == ClassAdmin || c == ClassPage || c == ClassChat
}

func Decide(in Input) Decision {
	return decide(Classify(in.Path), in)
}

func decide(class Class, in Input) Decision {
	switch class {
	case ClassExempt, ClassAdminLogin, ClassSiteLogin, ClassAPI:
		return Decision{Action: Allow}
	case ClassAdmin:
		if !in.AdminValid {
			return Decision{Action: Redirect, Target: AdminLoginPath, Status: http.StatusTemporaryRedirect}
		}
	}

	if !in.GlobalAuth || in.SiteValid {
		return Decision{Action: Allow}
	}
	if class == ClassChat {
		return Decision{Action: Reject, Status: http.StatusUnauthorized}
	}
	return Decision{Action: Redirect, Target: SiteLoginPath, Status: http.StatusTemporaryRedirect}
}
