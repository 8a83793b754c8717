package orgs

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestGetActiveUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := newStoreWithExec(mock)

	orgID, userID := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT id, org_id, name, email, active").
		WithArgs(userID, orgID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "org_id", "name", "email", "active"}).
			AddRow(userID, orgID, "Pat Intake", "pat@example.com", true))

	u, err := store.GetActiveUser(context.Background(), orgID, userID)
	if err != nil {
		t.Fatalf("get active user: %v", err)
	}
	if u.ID != userID || !u.Active {
		t.Errorf("unexpected user: %+v", u)
	}
}

func TestGetActiveUserDeactivated(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := newStoreWithExec(mock)

	orgID, userID := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT id, org_id, name, email, active").
		WithArgs(userID, orgID).
		WillReturnError(pgx.ErrNoRows)

	if _, err := store.GetActiveUser(context.Background(), orgID, userID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSetOnCallUserRejectsInactive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := newStoreWithExec(mock)

	orgID, userID := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT id, org_id, name, email, active").
		WithArgs(userID, orgID).
		WillReturnError(pgx.ErrNoRows)

	if err := store.SetOnCallUser(context.Background(), orgID, &userID); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}

func TestSetOnCallUserClears(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := newStoreWithExec(mock)

	orgID := uuid.New()
	mock.ExpectExec("UPDATE organizations").
		WithArgs(orgID, (*uuid.UUID)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.SetOnCallUser(context.Background(), orgID, nil); err != nil {
		t.Fatalf("clear oncall: %v", err)
	}
}
