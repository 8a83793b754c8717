package oncall

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/casecurrentai/casecurrent/internal/events"
	"github.com/casecurrentai/casecurrent/internal/numbers"
	"github.com/casecurrentai/casecurrent/internal/observability/metrics"
	"github.com/casecurrentai/casecurrent/internal/orgs"
	"github.com/casecurrentai/casecurrent/pkg/logging"
)

// Routing targets, most to least specific.
const (
	TargetNumberOverride = "number_override"
	TargetOrgOnCall      = "org_oncall"
	TargetBroadcast      = "broadcast"
	TargetNone           = "none"
)

// Decision is the outcome of routing one inbound call.
type Decision struct {
	Target string
	// User is the single on-call recipient; nil when broadcasting.
	User *orgs.User
	// Users is every notification recipient (one entry for targeted
	// routing, all active members for a broadcast).
	Users []orgs.User
}

// UserDirectory is the org/user lookup surface the router needs.
type UserDirectory interface {
	Get(ctx context.Context, orgID uuid.UUID) (*orgs.Organization, error)
	GetActiveUser(ctx context.Context, orgID, userID uuid.UUID) (*orgs.User, error)
	ListActiveUsers(ctx context.Context, orgID uuid.UUID) ([]orgs.User, error)
	ClearOnCallUser(ctx context.Context, orgID uuid.UUID) error
}

// NumberDirectory clears stale per-number on-call overrides.
type NumberDirectory interface {
	SetOnCallUser(ctx context.Context, orgID, id uuid.UUID, userID *uuid.UUID) error
}

// DiagSink records operational diagnostics.
type DiagSink interface {
	Emit(ctx context.Context, orgID *uuid.UUID, code string, detail any) error
}

// Router decides who gets notified about a new inbound call: the number-level
// override first, then the org-level on-call, then every active member.
// Pointers at deactivated users are cleared as they are discovered.
type Router struct {
	users   UserDirectory
	numbers NumberDirectory
	diag    DiagSink
	metrics *metrics.IngestionMetrics
	logger  *logging.Logger
}

type RouterOption func(*Router)

func WithRouterMetrics(m *metrics.IngestionMetrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

func WithRouterLogger(l *logging.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

func NewRouter(users UserDirectory, nums NumberDirectory, diag DiagSink, opts ...RouterOption) *Router {
	if users == nil || nums == nil {
		panic("oncall: user and number directories required")
	}
	r := &Router{
		users:   users,
		numbers: nums,
		diag:    diag,
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route picks the notification target for a call arriving on number. It never
// fails on stale on-call pointers: those are cleared and routing falls
// through to the next level.
func (r *Router) Route(ctx context.Context, number *numbers.PhoneNumber) (*Decision, error) {
	if number.OnCallUserID != nil {
		u, err := r.users.GetActiveUser(ctx, number.OrgID, *number.OnCallUserID)
		switch {
		case err == nil:
			r.metrics.ObserveRouting(TargetNumberOverride)
			return &Decision{Target: TargetNumberOverride, User: u, Users: []orgs.User{*u}}, nil
		case errors.Is(err, orgs.ErrUserNotFound):
			r.healNumberOverride(ctx, number)
		default:
			return nil, fmt.Errorf("oncall: resolve number override: %w", err)
		}
	}

	org, err := r.users.Get(ctx, number.OrgID)
	if err != nil {
		return nil, fmt.Errorf("oncall: load org: %w", err)
	}
	if org.OnCallUserID != nil {
		u, err := r.users.GetActiveUser(ctx, org.ID, *org.OnCallUserID)
		switch {
		case err == nil:
			r.metrics.ObserveRouting(TargetOrgOnCall)
			return &Decision{Target: TargetOrgOnCall, User: u, Users: []orgs.User{*u}}, nil
		case errors.Is(err, orgs.ErrUserNotFound):
			r.healOrgOnCall(ctx, org)
		default:
			return nil, fmt.Errorf("oncall: resolve org oncall: %w", err)
		}
	}

	members, err := r.users.ListActiveUsers(ctx, number.OrgID)
	if err != nil {
		return nil, fmt.Errorf("oncall: list members: %w", err)
	}
	r.emitDiag(ctx, &number.OrgID, events.DiagOnCallNotConfigured, map[string]string{
		"phone_number_id": number.ID.String(),
		"e164":            number.E164,
	})
	if len(members) == 0 {
		r.metrics.ObserveRouting(TargetNone)
		return &Decision{Target: TargetNone}, nil
	}
	r.metrics.ObserveRouting(TargetBroadcast)
	return &Decision{Target: TargetBroadcast, Users: members}, nil
}

func (r *Router) healNumberOverride(ctx context.Context, number *numbers.PhoneNumber) {
	staleID := *number.OnCallUserID
	if err := r.numbers.SetOnCallUser(ctx, number.OrgID, number.ID, nil); err != nil {
		r.logger.Warn("failed to clear stale number on-call", "phone_number_id", number.ID, "error", err)
		return
	}
	r.emitDiag(ctx, &number.OrgID, events.DiagStaleOnCallCleared, map[string]string{
		"scope":           "number",
		"phone_number_id": number.ID.String(),
		"user_id":         staleID.String(),
	})
}

func (r *Router) healOrgOnCall(ctx context.Context, org *orgs.Organization) {
	staleID := *org.OnCallUserID
	if err := r.users.ClearOnCallUser(ctx, org.ID); err != nil {
		r.logger.Warn("failed to clear stale org on-call", "org_id", org.ID, "error", err)
		return
	}
	r.emitDiag(ctx, &org.ID, events.DiagStaleOnCallCleared, map[string]string{
		"scope":   "org",
		"user_id": staleID.String(),
	})
}

func (r *Router) emitDiag(ctx context.Context, orgID *uuid.UUID, code string, detail any) {
	if r.diag == nil {
		return
	}
	if err := r.diag.Emit(ctx, orgID, code, detail); err != nil {
		r.logger.Warn("diag emit failed", "code", code, "error", err)
	}
}
