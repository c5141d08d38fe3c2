package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/coursegate/pkg/audit"
	"github.com/platinummonkey/coursegate/pkg/enrollment"
	"github.com/platinummonkey/coursegate/pkg/identity"
	"github.com/platinummonkey/coursegate/pkg/observability"
	"github.com/platinummonkey/coursegate/pkg/risk"
	"github.com/platinummonkey/coursegate/pkg/trust"
)

// Classifier decides whether an email is trusted
type Classifier interface {
	Classify(ctx context.Context, email, hint string) (trust.Verdict, error)
}

// RiskController is the failure counter consulted for untrusted identities
type RiskController interface {
	Status(ctx context.Context, id string) risk.Status
	RecordFailure(ctx context.Context, id string) int64
	Clear(ctx context.Context, id string)
}

// Provisioner finds or creates the user for a trusted identity
type Provisioner interface {
	FindOrCreate(ctx context.Context, email string, opts identity.Options) (*identity.User, error)
}

// CourseRoles reports a user's role in their current offering
type CourseRoles interface {
	CurrentRole(ctx context.Context, userID uuid.UUID) (enrollment.CourseRole, error)
}

// Deps are the collaborators of a Gateway. Courses, Recorder, Metrics and
// Logger may be nil.
type Deps struct {
	Classifier   Classifier
	Risk         RiskController
	Provisioner  Provisioner
	Courses      CourseRoles
	Recorder     *audit.Recorder
	Metrics      *observability.Metrics
	Logger       *observability.Logger
	Destinations Destinations
}

// Gateway runs the login state machine
type Gateway struct {
	classifier  Classifier
	risk        RiskController
	provisioner Provisioner
	courses     CourseRoles
	recorder    *audit.Recorder
	metrics     *observability.Metrics
	logger      *observability.Logger
	dest        Destinations
	tracer      trace.Tracer
	now         func() time.Time
}

// New creates a gateway
func New(deps Deps) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	dest := deps.Destinations
	if dest == (Destinations{}) {
		dest = DefaultDestinations()
	}
	return &Gateway{
		classifier:  deps.Classifier,
		risk:        deps.Risk,
		provisioner: deps.Provisioner,
		courses:     deps.Courses,
		recorder:    deps.Recorder,
		metrics:     deps.Metrics,
		logger:      logger,
		dest:        dest,
		tracer:      observability.Tracer(),
		now:         time.Now,
	}
}

// Destinations returns the configured redirect paths
func (g *Gateway) Destinations() Destinations {
	return g.dest
}

// Login decides one asserted identity. It always returns a result in a
// terminal state.
func (g *Gateway) Login(ctx context.Context, in Attempt) *Result {
	start := g.now()
	ctx, span := g.tracer.Start(ctx, "gateway.Login")
	defer span.End()

	email := trust.NormalizeEmail(in.Identity.Email)
	id := risk.UserIdentifier(email)
	details := audit.Details{
		Identifier: email,
		UserID:     in.Identity.Subject,
		Path:       in.Path,
		Metadata: map[string]interface{}{
			"client_ip":     in.ClientIP,
			"hosted_domain": in.Identity.HostedDomain,
		},
	}
	logger := observability.UpdateLoggerWithTraceContext(ctx, g.logger.WithField("identifier", email))

	res := &Result{State: StateReceived}
	defer func() {
		if !res.State.Terminal() {
			logger.WithField("state", string(res.State)).Error("login run ended before a terminal state")
			res.State = StateFailed
		}
		span.SetAttributes(
			attribute.String("coursegate.login.state", string(res.State)),
			attribute.String("coursegate.login.event", string(res.Event)),
			attribute.String("coursegate.login.verdict", string(res.Verdict)),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, string(res.State))
		}
		g.metrics.RecordLogin(string(res.State), string(res.Event), g.now().Sub(start))
	}()

	verdict, err := g.classifier.Classify(ctx, email, in.Identity.HostedDomain)
	if err != nil {
		logger.WithError(err).Warn("trust classification failed, treating identity as untrusted")
	}
	res.Verdict = verdict
	res.State = StateDomainChecked

	switch verdict {
	case trust.Institutional:
		g.risk.Clear(ctx, id)
		res.Event = audit.EventLoginSuccess
	case trust.Whitelisted:
		res.Risk = g.risk.Status(ctx, id)
		g.risk.Clear(ctx, id)
		res.Event = audit.EventLoginSuccessWhitelist
		if res.Risk.Blocked {
			res.Event = audit.EventLoginSuccessWhitelistBypass
		}
	default:
		res.Risk = g.risk.Status(ctx, id)
		res.State = StateRiskChecked
		if res.Risk.Blocked {
			g.reject(ctx, res, StateRejectedBlocked, audit.EventLoginRateLimited, g.dest.Blocked,
				"login blocked after repeated rejected attempts", details)
			logger.WithField("attempts", res.Risk.Attempts).Warn("login rate limited")
			return res
		}
		attempts := g.risk.RecordFailure(ctx, id)
		details.Metadata["attempts"] = attempts
		g.reject(ctx, res, StateRejectedDomain, audit.EventLoginRejectedDomain, g.dest.DomainRejected,
			"email domain is not institutional and not whitelisted", details)
		logger.WithField("attempts", attempts).Info("login rejected: untrusted domain")
		return res
	}
	res.State = StateRiskChecked

	user, err := g.provisioner.FindOrCreate(ctx, email, identity.Options{
		DisplayName: in.Identity.Name,
		SubjectID:   in.Identity.Subject,
		DomainHint:  in.Identity.HostedDomain,
	})
	if err != nil {
		res.Err = err
		details.Metadata["error"] = err.Error()
		g.reject(ctx, res, StateFailed, audit.EventLoginError, g.dest.ServerError,
			"failed to provision user", details)
		logger.WithError(err).Error("login failed: provisioning error")
		return res
	}
	res.User = user
	res.State = StateProvisioned

	details.UserID = user.ID.String()
	details.Metadata["role"] = string(user.Role)
	details.Metadata["institution"] = user.Institution
	g.recorder.Record(ctx, res.Event, successMessage(res.Event), details)
	res.State = StateLogged

	res.Destination = g.route(ctx, user)
	res.State = StateRouted
	span.SetAttributes(attribute.String("coursegate.login.destination", res.Destination))
	return res
}

func (g *Gateway) reject(ctx context.Context, res *Result, state State, event audit.EventType, dest, message string, details audit.Details) {
	res.State = state
	res.Event = event
	res.Destination = dest
	g.recorder.Record(ctx, event, message, details)
}

func successMessage(event audit.EventType) string {
	switch event {
	case audit.EventLoginSuccessWhitelist:
		return "whitelisted login succeeded"
	case audit.EventLoginSuccessWhitelistBypass:
		return "whitelisted login succeeded, prior block lifted"
	default:
		return "institutional login succeeded"
	}
}

// route picks the landing page for a provisioned user. Anything unmatched
// goes to registration.
func (g *Gateway) route(ctx context.Context, user *identity.User) string {
	switch user.Role {
	case identity.RoleUnregistered:
		return g.dest.Registration
	case identity.RoleAdmin:
		return g.dest.AdminLanding
	case identity.RoleInstructor:
		return g.dest.InstructorLanding
	}

	courseRole := g.courseRole(ctx, user.ID)
	switch {
	case courseRole == enrollment.RoleTA, courseRole == enrollment.RoleTutor:
		return g.dest.StaffLanding
	case courseRole == enrollment.RoleStudent, user.Role == identity.RoleStudent:
		return g.dest.StudentLanding
	}
	return g.dest.Registration
}

func (g *Gateway) courseRole(ctx context.Context, userID uuid.UUID) enrollment.CourseRole {
	if g.courses == nil {
		return ""
	}
	role, err := g.courses.CurrentRole(ctx, userID)
	if err != nil {
		g.logger.WithError(err).WithField("user_id", userID.String()).Warn("failed to look up course role for routing")
	}
	return role
}
