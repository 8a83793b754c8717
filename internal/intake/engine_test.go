package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/casecurrentai/casecurrent/internal/numbers"
	"github.com/casecurrentai/casecurrent/internal/telephony"
)

func testNumber() *numbers.PhoneNumber {
	return &numbers.PhoneNumber{
		ID:    uuid.New(),
		OrgID: uuid.New(),
		E164:  "+15125550100",
	}
}

func TestUpsertConversationNewCall(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	num := testNumber()
	contactID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO contacts").
		WithArgs(pgxmock.AnyArg(), num.OrgID, "Jamie Caller", "+15125550199").
		WillReturnRows(pgxmock.NewRows([]string{"id", "org_id", "name", "primary_phone", "primary_email", "created_at"}).
			AddRow(contactID, num.OrgID, "Jamie Caller", "+15125550199", "", now))
	mock.ExpectQuery("SELECT (.+) FROM leads").
		WithArgs(num.OrgID, contactID, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("INSERT INTO leads").
		WithArgs(pgxmock.AnyArg(), num.OrgID, contactID, LeadStatusNew, PriorityHigh, "phone").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec("INSERT INTO interactions").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO calls").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	engine := NewEngine(NewStore(mock), nil)
	conv, err := engine.UpsertConversation(context.Background(), num, &telephony.CallEvent{
		Provider:       "twilio",
		Kind:           telephony.KindCallInitiated,
		ProviderCallID: "CA001",
		From:           "+15125550199",
		CallerName:     "Jamie Caller",
		Status:         telephony.StatusRinging,
		OccurredAt:     now,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !conv.IsNewLead {
		t.Error("expected a new lead")
	}
	if conv.Call == nil || conv.Call.Status != "ringing" {
		t.Errorf("unexpected call: %+v", conv.Call)
	}
	if conv.Message != nil {
		t.Error("call event should not create a message")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsertConversationDuplicateCall(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	num := testNumber()
	contactID, leadID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO contacts").
		WillReturnRows(pgxmock.NewRows([]string{"id", "org_id", "name", "primary_phone", "primary_email", "created_at"}).
			AddRow(contactID, num.OrgID, "Unknown Caller", "+15125550199", "", now))
	mock.ExpectQuery("SELECT (.+) FROM leads").
		WillReturnRows(leadRows(leadID, num.OrgID, contactID, now))
	mock.ExpectExec("INSERT INTO interactions").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO calls").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectRollback()

	engine := NewEngine(NewStore(mock), nil)
	conv, err := engine.UpsertConversation(context.Background(), num, &telephony.CallEvent{
		Provider:       "twilio",
		Kind:           telephony.KindCallInitiated,
		ProviderCallID: "CA001",
		From:           "+15125550199",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !conv.Duplicate {
		t.Error("expected a duplicate short-circuit")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsertConversationSMSReusesOpenThread(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	num := testNumber()
	contactID, leadID, interactionID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	// Contact already exists: the conditional insert hits the conflict and
	// the follow-up select returns the existing row.
	mock.ExpectQuery("INSERT INTO contacts").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM contacts").
		WithArgs(num.OrgID, "+15125550199").
		WillReturnRows(pgxmock.NewRows([]string{"id", "org_id", "name", "primary_phone", "primary_email", "created_at"}).
			AddRow(contactID, num.OrgID, "Jamie Caller", "+15125550199", "", now))
	mock.ExpectQuery("SELECT (.+) FROM leads").
		WillReturnRows(leadRows(leadID, num.OrgID, contactID, now))
	mock.ExpectQuery("SELECT (.+) FROM interactions").
		WithArgs(leadID, ChannelSMS).
		WillReturnRows(pgxmock.NewRows([]string{"id", "org_id", "lead_id", "channel", "status", "started_at", "ended_at"}).
			AddRow(interactionID, num.OrgID, leadID, ChannelSMS, InteractionActive, now, nil))
	mock.ExpectExec("INSERT INTO messages").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	engine := NewEngine(NewStore(mock), nil)
	conv, err := engine.UpsertConversation(context.Background(), num, &telephony.CallEvent{
		Provider:  "twilio",
		Kind:      telephony.KindMessage,
		MessageID: "SM001",
		From:      "+15125550199",
		Body:      "I was in an accident last week",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if conv.IsNewLead {
		t.Error("open lead should be reused")
	}
	if conv.Interaction == nil || conv.Interaction.ID != interactionID {
		t.Errorf("open sms interaction should be reused, got %+v", conv.Interaction)
	}
	if conv.Message == nil || conv.Message.Body != "I was in an accident last week" {
		t.Errorf("unexpected message: %+v", conv.Message)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsertConversationIsolatesOrgs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	// The same caller dials numbers owned by two different orgs; each org
	// gets its own contact and lead.
	numA, numB := testNumber(), testNumber()
	contactA, contactB := uuid.New(), uuid.New()
	now := time.Now().UTC()

	for _, step := range []struct {
		num       *numbers.PhoneNumber
		contactID uuid.UUID
	}{
		{numA, contactA},
		{numB, contactB},
	} {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO contacts").
			WithArgs(pgxmock.AnyArg(), step.num.OrgID, "Unknown Caller", "+15125550199").
			WillReturnRows(pgxmock.NewRows([]string{"id", "org_id", "name", "primary_phone", "primary_email", "created_at"}).
				AddRow(step.contactID, step.num.OrgID, "Unknown Caller", "+15125550199", "", now))
		mock.ExpectQuery("SELECT (.+) FROM leads").
			WithArgs(step.num.OrgID, step.contactID, pgxmock.AnyArg()).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("INSERT INTO leads").
			WithArgs(pgxmock.AnyArg(), step.num.OrgID, step.contactID, LeadStatusNew, PriorityHigh, "phone").
			WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
		mock.ExpectExec("INSERT INTO interactions").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("INSERT INTO calls").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
	}

	engine := NewEngine(NewStore(mock), nil)
	convA, err := engine.UpsertConversation(context.Background(), numA, &telephony.CallEvent{
		Provider:       "twilio",
		Kind:           telephony.KindCallInitiated,
		ProviderCallID: "CA-ORG-A",
		From:           "+15125550199",
		OccurredAt:     now,
	})
	if err != nil {
		t.Fatalf("upsert org A: %v", err)
	}
	convB, err := engine.UpsertConversation(context.Background(), numB, &telephony.CallEvent{
		Provider:       "twilio",
		Kind:           telephony.KindCallInitiated,
		ProviderCallID: "CA-ORG-B",
		From:           "+15125550199",
		OccurredAt:     now,
	})
	if err != nil {
		t.Fatalf("upsert org B: %v", err)
	}

	if convA.Contact.ID == convB.Contact.ID {
		t.Error("orgs must not share a contact for the same phone")
	}
	if convA.Contact.OrgID != numA.OrgID || convB.Contact.OrgID != numB.OrgID {
		t.Errorf("contacts landed in the wrong org: %s / %s", convA.Contact.OrgID, convB.Contact.OrgID)
	}
	if convA.Lead.ID == convB.Lead.ID {
		t.Error("orgs must not share a lead")
	}
	if !convA.IsNewLead || !convB.IsNewLead {
		t.Error("each org should open its own lead")
	}
	if convA.Call.OrgID != numA.OrgID || convB.Call.OrgID != numB.OrgID {
		t.Errorf("calls landed in the wrong org: %s / %s", convA.Call.OrgID, convB.Call.OrgID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsertConversationWrapsPersistenceFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	num := testNumber()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO contacts").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	engine := NewEngine(NewStore(mock), nil)
	_, err = engine.UpsertConversation(context.Background(), num, &telephony.CallEvent{
		Provider:       "plivo",
		Kind:           telephony.KindCallInitiated,
		ProviderCallID: "uuid-1",
		From:           "+15125550199",
	})
	if !errors.Is(err, ErrIngestionFailed) {
		t.Fatalf("expected ErrIngestionFailed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func leadRows(leadID, orgID, contactID uuid.UUID, now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "org_id", "contact_id", "status", "priority", "source", "practice_area_id",
		"incident_date", "incident_location", "summary", "intake_status", "score", "disposition", "created_at",
	}).AddRow(leadID, orgID, contactID, LeadStatusNew, PriorityHigh, "phone", nil, nil, "", "", "none", nil, "", now)
}
