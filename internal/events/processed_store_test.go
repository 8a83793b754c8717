package events

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
)

func TestProcessedStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock, nil)

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("twilio", "CA1").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	processed, err := store.AlreadyProcessed(context.Background(), "twilio", "CA1")
	if err != nil || !processed {
		t.Fatalf("expected existing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("twilio", "CA-miss").WillReturnError(pgx.ErrNoRows)
	processed, err = store.AlreadyProcessed(context.Background(), "twilio", "CA-miss")
	if err != nil || processed {
		t.Fatalf("expected missing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("twilio", "CA-new").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := store.MarkProcessed(context.Background(), "twilio", "CA-new")
	if err != nil || !ok {
		t.Fatalf("expected mark processed success, got %v %v", ok, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessedStoreRedisFastPath(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock, rdb)

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("vapi", "v-1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if _, err := store.MarkProcessed(context.Background(), "vapi", "v-1"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	// Second lookup hits the cache: no query expectation is registered, so a
	// database round trip would fail the test.
	processed, err := store.AlreadyProcessed(context.Background(), "vapi", "v-1")
	if err != nil || !processed {
		t.Fatalf("expected cached hit, got processed=%v err=%v", processed, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDiagStoreEmit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := NewDiagStore(mock)
	mock.ExpectExec("INSERT INTO diag_events").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), DiagNumberNotConfigured, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.Emit(context.Background(), nil, DiagNumberNotConfigured, map[string]string{"to": "+15550100300"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
