package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/casecurrentai/casecurrent/internal/telephony"
	"github.com/casecurrentai/casecurrent/pkg/logging"
)

// StateChange describes what a lifecycle event did to a call.
type StateChange struct {
	Call        *Call
	Interaction *Interaction

	// FirstTerminal is true exactly once per call: the event that moved it
	// out of the live set. Completion side effects key off this flag.
	FirstTerminal bool
	// LeadEngaged is true when this event flipped the lead to engaged.
	LeadEngaged bool
}

// StateMachine applies call lifecycle events (status, recording, report
// callbacks) to persisted calls. Terminal transitions happen exactly once;
// anything arriving after that only merges surface data.
type StateMachine struct {
	store  *Store
	logger *logging.Logger
}

func NewStateMachine(store *Store, logger *logging.Logger) *StateMachine {
	if store == nil {
		panic("intake: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StateMachine{store: store, logger: logger}
}

// Apply matches the event to a call and advances its state. Returns
// ErrCallNotFound when no call matches the provider ids; retrying the
// callback cannot fix that, so handlers ack the provider anyway.
func (sm *StateMachine) Apply(ctx context.Context, ev *telephony.CallEvent) (*StateChange, error) {
	tx, err := sm.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("intake: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	call, err := sm.store.FindCallByProviderID(ctx, tx, ev.Provider, ev.ProviderCallID, ev.SecondaryCallID)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrCallNotFound, ev.Provider, ev.ProviderCallID)
	}

	change := &StateChange{Call: call}

	switch {
	case ev.Status.IsTerminal():
		if err := sm.applyTerminal(ctx, tx, call, ev, change); err != nil {
			return nil, err
		}
	default:
		if ev.Status != "" && call.EndedAt == nil {
			if err := sm.store.UpdateCallProgress(ctx, tx, call.ID, string(ev.Status)); err != nil {
				return nil, err
			}
			call.Status = string(ev.Status)
		}
		if ev.DurationSeconds != nil || ev.RecordingURL != "" || ev.TranscriptText != "" {
			if err := sm.store.UpdateCallSurface(ctx, tx, call.ID, ev.DurationSeconds, ev.RecordingURL, ev.TranscriptText); err != nil {
				return nil, err
			}
			mergeSurface(call, ev)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("intake: commit: %w", err)
	}
	return change, nil
}

func (sm *StateMachine) applyTerminal(ctx context.Context, tx Querier, call *Call, ev *telephony.CallEvent, change *StateChange) error {
	endedAt := ev.OccurredAt
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}

	first, err := sm.store.TerminalizeCall(ctx, tx, call.ID, string(ev.Status), endedAt, ev.DurationSeconds, ev.RecordingURL, ev.TranscriptText)
	if err != nil {
		return err
	}
	if !first {
		// Already terminal: replayed status callbacks and late recording or
		// report callbacks may still carry new surface data.
		if ev.DurationSeconds != nil || ev.RecordingURL != "" || ev.TranscriptText != "" {
			if err := sm.store.UpdateCallSurface(ctx, tx, call.ID, ev.DurationSeconds, ev.RecordingURL, ev.TranscriptText); err != nil {
				return err
			}
			mergeSurface(call, ev)
		}
		return nil
	}

	change.FirstTerminal = true
	call.Status = string(ev.Status)
	call.Outcome = string(ev.Status)
	call.EndedAt = &endedAt
	mergeSurface(call, ev)
	if call.DurationSeconds == nil {
		d := int(endedAt.Sub(call.StartedAt).Seconds())
		if d < 0 {
			d = 0
		}
		call.DurationSeconds = &d
	}

	if err := sm.store.CompleteInteraction(ctx, tx, call.InteractionID, endedAt); err != nil {
		return err
	}
	interaction, err := sm.store.GetInteraction(ctx, tx, call.InteractionID)
	if err != nil {
		return err
	}
	change.Interaction = interaction

	if ev.Status == telephony.StatusCompleted && call.TranscriptText != "" {
		if err := sm.store.UpdateLeadStatus(ctx, tx, call.OrgID, interaction.LeadID, LeadStatusEngaged); err != nil {
			return err
		}
		change.LeadEngaged = true
	}
	return nil
}

func mergeSurface(call *Call, ev *telephony.CallEvent) {
	if ev.DurationSeconds != nil {
		call.DurationSeconds = ev.DurationSeconds
	}
	if ev.RecordingURL != "" {
		call.RecordingURL = ev.RecordingURL
	}
	if ev.TranscriptText != "" {
		call.TranscriptText = ev.TranscriptText
	}
}
