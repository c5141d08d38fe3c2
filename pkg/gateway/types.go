package gateway

import (
	"github.com/platinummonkey/coursegate/pkg/audit"
	"github.com/platinummonkey/coursegate/pkg/identity"
	"github.com/platinummonkey/coursegate/pkg/risk"
	"github.com/platinummonkey/coursegate/pkg/sso"
	"github.com/platinummonkey/coursegate/pkg/trust"
)

// State is a step of the login state machine
type State string

const (
	StateReceived        State = "received"
	StateDomainChecked   State = "domain-checked"
	StateRiskChecked     State = "risk-checked"
	StateProvisioned     State = "provisioned"
	StateLogged          State = "logged"
	StateRouted          State = "routed"
	StateRejectedDomain  State = "rejected-domain"
	StateRejectedBlocked State = "rejected-blocked"
	StateFailed          State = "failed"
)

// Terminal reports whether s ends a run
func (s State) Terminal() bool {
	switch s {
	case StateRouted, StateRejectedDomain, StateRejectedBlocked, StateFailed:
		return true
	}
	return false
}

// Destinations are the paths a finished login is sent to
type Destinations struct {
	Registration      string
	AdminLanding      string
	InstructorLanding string
	StaffLanding      string
	StudentLanding    string

	DomainRejected string
	Blocked        string
	ServerError    string
	CallbackError  string
}

// DefaultDestinations returns the frontend paths used when none are configured
func DefaultDestinations() Destinations {
	return Destinations{
		Registration:      "/register",
		AdminLanding:      "/admin",
		InstructorLanding: "/instructor",
		StaffLanding:      "/staff",
		StudentLanding:    "/dashboard",
		DomainRejected:    "/login?error=domain",
		Blocked:           "/login?error=blocked",
		ServerError:       "/login?error=server",
		CallbackError:     "/login?error=callback",
	}
}

// Attempt is one login to decide
type Attempt struct {
	Identity sso.Identity
	ClientIP string
	Path     string
}

// Result is the outcome of a run
type Result struct {
	State       State
	Event       audit.EventType
	Verdict     trust.Verdict
	Risk        risk.Status
	User        *identity.User
	Destination string
	Err         error
}

// Succeeded reports whether the run ended routed with a user
func (r *Result) Succeeded() bool {
	return r.State == StateRouted && r.User != nil
}
