package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/casecurrentai/casecurrent/internal/numbers"
	"github.com/casecurrentai/casecurrent/internal/observability/metrics"
	"github.com/casecurrentai/casecurrent/internal/telephony"
	"github.com/casecurrentai/casecurrent/pkg/logging"
)

// ProcessedLog is the idempotency gate for inbound provider events.
type ProcessedLog interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Engine materializes inbound telephony events into the conversation graph:
// contact, lead, interaction and the call or message leg. All writes for one
// event happen in a single transaction.
type Engine struct {
	store     *Store
	processed ProcessedLog
	metrics   *metrics.IngestionMetrics
	logger    *logging.Logger
}

type EngineOption func(*Engine)

func WithEngineLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func WithEngineMetrics(m *metrics.IngestionMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(store *Store, processed ProcessedLog, opts ...EngineOption) *Engine {
	if store == nil {
		panic("intake: store required")
	}
	e := &Engine{
		store:     store,
		processed: processed,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func eventID(ev *telephony.CallEvent) string {
	if ev.Kind == telephony.KindMessage {
		return ev.MessageID
	}
	return ev.ProviderCallID
}

// UpsertConversation ingests a call.initiated or message.received event for a
// resolved tenant number. Replays of an already-ingested event return a
// Conversation with Duplicate set and write nothing.
func (e *Engine) UpsertConversation(ctx context.Context, number *numbers.PhoneNumber, ev *telephony.CallEvent) (*Conversation, error) {
	id := eventID(ev)
	if e.processed != nil && id != "" {
		seen, err := e.processed.AlreadyProcessed(ctx, ev.Provider, id)
		if err != nil {
			e.logger.Warn("processed-event lookup failed, continuing", "provider", ev.Provider, "error", err)
		} else if seen {
			e.metrics.ObserveDuplicate(ev.Provider)
			return &Conversation{Duplicate: true}, nil
		}
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrIngestionFailed, err)
	}
	defer tx.Rollback(ctx)

	conv, err := e.upsertInTx(ctx, tx, number, ev)
	if err != nil {
		return nil, err
	}
	if conv.Duplicate {
		// A concurrent replay won the insert race; nothing to commit.
		e.metrics.ObserveDuplicate(ev.Provider)
		return conv, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrIngestionFailed, err)
	}

	if e.processed != nil && id != "" {
		if _, err := e.processed.MarkProcessed(ctx, ev.Provider, id); err != nil {
			e.logger.Warn("mark processed failed", "provider", ev.Provider, "event_id", id, "error", err)
		}
	}
	return conv, nil
}

func (e *Engine) upsertInTx(ctx context.Context, tx Querier, number *numbers.PhoneNumber, ev *telephony.CallEvent) (*Conversation, error) {
	isMessage := ev.Kind == telephony.KindMessage

	name := ev.CallerName
	if name == "" {
		if isMessage {
			name = unknownSenderName
		} else {
			name = unknownCallerName
		}
	}

	contact, _, err := e.store.GetOrCreateContact(ctx, tx, number.OrgID, ev.From, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIngestionFailed, err)
	}

	lead, err := e.store.FindOpenLead(ctx, tx, number.OrgID, contact.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIngestionFailed, err)
	}
	isNewLead := lead == nil
	if isNewLead {
		lead = &Lead{
			ID:        uuid.New(),
			OrgID:     number.OrgID,
			ContactID: contact.ID,
			Status:    LeadStatusNew,
			Priority:  PriorityHigh,
			Source:    "phone",
		}
		if isMessage {
			lead.Priority = PriorityMedium
			lead.Source = "sms"
		}
		if err := e.store.InsertLead(ctx, tx, lead); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIngestionFailed, err)
		}
	}

	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	// Calls open a fresh interaction per call; SMS threads into the open SMS
	// interaction when one exists.
	var interaction *Interaction
	if isMessage {
		interaction, err = e.store.FindOpenInteraction(ctx, tx, lead.ID, ChannelSMS)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIngestionFailed, err)
		}
	}
	if interaction == nil {
		channel := ChannelCall
		if isMessage {
			channel = ChannelSMS
		}
		interaction = &Interaction{
			ID:        uuid.New(),
			OrgID:     number.OrgID,
			LeadID:    lead.ID,
			Channel:   channel,
			Status:    InteractionActive,
			StartedAt: occurredAt,
		}
		if err := e.store.InsertInteraction(ctx, tx, interaction); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIngestionFailed, err)
		}
	}

	conv := &Conversation{
		Contact:     contact,
		Lead:        lead,
		Interaction: interaction,
		IsNewLead:   isNewLead,
	}

	if isMessage {
		msg := &Message{
			ID:                uuid.New(),
			OrgID:             number.OrgID,
			InteractionID:     interaction.ID,
			Provider:          ev.Provider,
			ProviderMessageID: ev.MessageID,
			Direction:         "inbound",
			FromE164:          ev.From,
			ToE164:            number.E164,
			Body:              ev.Body,
			CreatedAt:         occurredAt,
		}
		inserted, err := e.store.InsertMessage(ctx, tx, msg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIngestionFailed, err)
		}
		if !inserted {
			return &Conversation{Duplicate: true}, nil
		}
		conv.Message = msg
		return conv, nil
	}

	status := string(ev.Status)
	if status == "" {
		status = string(telephony.StatusRinging)
	}
	call := &Call{
		ID:              uuid.New(),
		OrgID:           number.OrgID,
		InteractionID:   interaction.ID,
		PhoneNumberID:   number.ID,
		Provider:        ev.Provider,
		ProviderCallID:  ev.ProviderCallID,
		SecondaryCallID: ev.SecondaryCallID,
		Direction:       "inbound",
		FromE164:        ev.From,
		ToE164:          number.E164,
		Status:          status,
		StartedAt:       occurredAt,
	}
	inserted, err := e.store.InsertCall(ctx, tx, call)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIngestionFailed, err)
	}
	if !inserted {
		return &Conversation{Duplicate: true}, nil
	}
	conv.Call = call
	return conv, nil
}
