package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/casecurrentai/casecurrent/internal/intake"
	"github.com/casecurrentai/casecurrent/internal/oncall"
	"github.com/casecurrentai/casecurrent/internal/realtime"
	"github.com/casecurrentai/casecurrent/pkg/logging"
)

// RealtimeSender pushes notifications to connected dashboard sessions.
type RealtimeSender interface {
	SendToUser(orgID, userID uuid.UUID, n realtime.Notification) int
	Broadcast(orgID uuid.UUID, n realtime.Notification) int
}

// Service delivers on-call alerts over two independent best-effort channels:
// realtime push to open dashboard sessions, and email for recipients without
// one. A failure on either channel never blocks ingestion.
type Service struct {
	email    EmailSender
	realtime RealtimeSender
	logger   *logging.Logger
}

// NewService creates a notification service. Either channel may be nil.
func NewService(email EmailSender, rt RealtimeSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:    email,
		realtime: rt,
		logger:   logger,
	}
}

// NotifyIncomingCall alerts the routing decision's recipients about a new
// inbound call. Recipients with an open realtime session get the push there;
// everyone else gets email.
func (s *Service) NotifyIncomingCall(ctx context.Context, decision *oncall.Decision, conv *intake.Conversation) error {
	if decision == nil || conv == nil || conv.Call == nil {
		return nil
	}

	n := realtime.Notification{
		Type: "call.incoming",
		Payload: map[string]any{
			"call_id":     conv.Call.ID,
			"lead_id":     conv.Lead.ID,
			"contact":     conv.Contact.Name,
			"from":        conv.Call.FromE164,
			"to":          conv.Call.ToE164,
			"is_new_lead": conv.IsNewLead,
			"target":      decision.Target,
		},
	}

	subject := fmt.Sprintf("Incoming call from %s", callerLabel(conv))
	body := fmt.Sprintf(`%s is calling %s right now.

Caller: %s
Number: %s
Lead status: %s

Open the dashboard to pick up the intake.`,
		callerLabel(conv), conv.Call.ToE164, conv.Contact.Name, conv.Call.FromE164, conv.Lead.Status)

	return s.deliver(ctx, conv.Call.OrgID, decision, n, subject, body)
}

// NotifyInboundMessage alerts recipients about a new inbound SMS.
func (s *Service) NotifyInboundMessage(ctx context.Context, decision *oncall.Decision, conv *intake.Conversation) error {
	if decision == nil || conv == nil || conv.Message == nil {
		return nil
	}

	n := realtime.Notification{
		Type: "message.received",
		Payload: map[string]any{
			"message_id":  conv.Message.ID,
			"lead_id":     conv.Lead.ID,
			"contact":     conv.Contact.Name,
			"from":        conv.Message.FromE164,
			"body":        truncate(conv.Message.Body, 160),
			"is_new_lead": conv.IsNewLead,
		},
	}

	subject := fmt.Sprintf("New text from %s", callerLabel(conv))
	body := fmt.Sprintf(`%s texted %s:

%s

Reply from the dashboard.`, callerLabel(conv), conv.Message.ToE164, conv.Message.Body)

	return s.deliver(ctx, conv.Message.OrgID, decision, n, subject, body)
}

func (s *Service) deliver(ctx context.Context, orgID uuid.UUID, decision *oncall.Decision, n realtime.Notification, subject, body string) error {
	var failed int
	for _, u := range decision.Users {
		reached := 0
		if s.realtime != nil {
			reached = s.realtime.SendToUser(orgID, u.ID, n)
		}
		if reached > 0 {
			s.logger.Debug("realtime alert delivered", "user_id", u.ID, "sessions", reached)
			continue
		}
		if s.email == nil || u.Email == "" {
			continue
		}
		msg := EmailMessage{To: u.Email, ToName: u.Name, Subject: subject, Body: body}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("fallback email failed", "error", err, "to", u.Email)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", failed)
	}
	return nil
}

func callerLabel(conv *intake.Conversation) string {
	if conv.Contact != nil && conv.Contact.Name != "" {
		return conv.Contact.Name
	}
	if conv.Call != nil {
		return conv.Call.FromE164
	}
	if conv.Message != nil {
		return conv.Message.FromE164
	}
	return "Unknown"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
