package qualify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/casecurrentai/casecurrent/internal/intake"
	"github.com/casecurrentai/casecurrent/internal/webhookout"
	"github.com/casecurrentai/casecurrent/pkg/logging"
)

// LeadSource is the read surface the scorer needs from the intake store.
type LeadSource interface {
	GetLead(ctx context.Context, orgID, leadID uuid.UUID) (*intake.Lead, error)
	GetContact(ctx context.Context, orgID, contactID uuid.UUID) (*intake.Contact, error)
	ListCallsByLead(ctx context.Context, orgID, leadID uuid.UUID) ([]intake.Call, error)
}

// Override is a human correction to a qualification. The note is always
// appended to the explanations trail, attributed to the author.
type Override struct {
	Disposition *Disposition `json:"disposition,omitempty"`
	Score       *int         `json:"score,omitempty"`
	Note        string       `json:"note"`
	Author      string       `json:"author"`
}

// ErrInvalidOverride rejects malformed override requests.
var ErrInvalidOverride = fmt.Errorf("qualify: invalid override")

// Emitter publishes lead lifecycle webhooks.
type Emitter interface {
	Emit(ctx context.Context, orgID uuid.UUID, eventType string, payload any) error
}

// Service runs the scorer against stored lead data and applies human
// overrides.
type Service struct {
	store   *Store
	leads   LeadSource
	emitter Emitter
	logger  *logging.Logger
}

func NewService(store *Store, leads LeadSource, logger *logging.Logger) *Service {
	if store == nil || leads == nil {
		panic("qualify: store and lead source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, leads: leads, logger: logger}
}

// WithEmitter makes accepted qualifications publish lead.qualified webhooks.
func (s *Service) WithEmitter(e Emitter) *Service {
	s.emitter = e
	return s
}

// Run scores the lead and persists the result, refreshing the lead's cached
// score/disposition and deriving its status from the disposition.
func (s *Service) Run(ctx context.Context, orgID, leadID uuid.UUID) (*Qualification, error) {
	lead, err := s.leads.GetLead(ctx, orgID, leadID)
	if err != nil {
		return nil, err
	}
	contact, err := s.leads.GetContact(ctx, orgID, lead.ContactID)
	if err != nil {
		return nil, err
	}
	calls, err := s.leads.ListCallsByLead(ctx, orgID, leadID)
	if err != nil {
		return nil, err
	}

	res := Score(Input{Contact: contact, Lead: lead, Calls: calls})
	q := &Qualification{
		ID:          uuid.New(),
		OrgID:       orgID,
		LeadID:      leadID,
		Score:       res.Score,
		Disposition: res.Disposition,
		Confidence:  res.Confidence,
		Reasons:     res.Reasons,
	}

	newStatus := statusForDisposition(res.Disposition)
	if newStatus == string(lead.Status) {
		newStatus = ""
	}
	if err := s.store.Save(ctx, q, newStatus); err != nil {
		return nil, err
	}
	s.logger.Info("qualification run",
		"org_id", orgID, "lead_id", leadID,
		"score", q.Score, "disposition", q.Disposition)
	if res.Disposition == DispositionAccept {
		s.emitQualified(ctx, q)
	}
	return q, nil
}

// ApplyOverride merges a human override into the live qualification. The
// lead's status is re-derived only when the disposition actually changed.
func (s *Service) ApplyOverride(ctx context.Context, orgID, leadID uuid.UUID, ov Override) (*Qualification, error) {
	if ov.Disposition == nil && ov.Score == nil {
		return nil, fmt.Errorf("%w: nothing to override", ErrInvalidOverride)
	}
	if ov.Disposition != nil && !validDisposition(*ov.Disposition) {
		return nil, fmt.Errorf("%w: unknown disposition %q", ErrInvalidOverride, *ov.Disposition)
	}
	if ov.Score != nil && (*ov.Score < 0 || *ov.Score > 100) {
		return nil, fmt.Errorf("%w: score out of range", ErrInvalidOverride)
	}

	q, err := s.store.Get(ctx, orgID, leadID)
	if err != nil {
		return nil, err
	}

	dispositionChanged := false
	if ov.Disposition != nil && *ov.Disposition != q.Disposition {
		q.Disposition = *ov.Disposition
		dispositionChanged = true
	}
	if ov.Score != nil {
		q.Score = *ov.Score
	}

	author := ov.Author
	if author == "" {
		author = "unknown"
	}
	note := fmt.Sprintf("override by %s: %s", author, ov.Note)
	q.Reasons.Explanations = append(q.Reasons.Explanations, note)

	newStatus := ""
	if dispositionChanged {
		newStatus = statusForDisposition(q.Disposition)
	}
	if err := s.store.Save(ctx, q, newStatus); err != nil {
		return nil, err
	}
	s.logger.Info("qualification overridden",
		"org_id", orgID, "lead_id", leadID,
		"author", author, "disposition", q.Disposition)
	if dispositionChanged && q.Disposition == DispositionAccept {
		s.emitQualified(ctx, q)
	}
	return q, nil
}

func (s *Service) emitQualified(ctx context.Context, q *Qualification) {
	if s.emitter == nil {
		return
	}
	payload := map[string]any{
		"lead_id":     q.LeadID,
		"score":       q.Score,
		"disposition": q.Disposition,
		"confidence":  q.Confidence,
	}
	if err := s.emitter.Emit(ctx, q.OrgID, webhookout.EventLeadQualified, payload); err != nil {
		s.logger.Error("lead.qualified emission failed", "lead_id", q.LeadID, "error", err)
	}
}

// Get returns the live qualification for a lead.
func (s *Service) Get(ctx context.Context, orgID, leadID uuid.UUID) (*Qualification, error) {
	return s.store.Get(ctx, orgID, leadID)
}

func statusForDisposition(d Disposition) string {
	switch d {
	case DispositionAccept:
		return string(intake.LeadStatusQualified)
	case DispositionDecline:
		return string(intake.LeadStatusUnqualified)
	default:
		return ""
	}
}

func validDisposition(d Disposition) bool {
	switch d {
	case DispositionAccept, DispositionReview, DispositionDecline:
		return true
	}
	return false
}
