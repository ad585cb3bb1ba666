package sink

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/moonmd/SCPI-Bench/internal/domain"
)

func TestTimescaleSinkEmit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := NewTimescaleSink(db, "bench_samples")

	expectedQuery := regexp.QuoteMeta(insertStatement("bench_samples"))
	mock.ExpectExec(expectedQuery).
		WithArgs("run-1", 1.5, 0, 3.6, 1.0, 3.58, 0.95,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sample := &domain.Sample{
		RunID: "run-1", T: 1.5, Step: 0,
		VSet: 3.6, ISet: 1.0, VMeas: 3.58, IMeas: 0.95,
		TempC: f64(25.3), HumidityPct: f64(48.0), EnsOK: true,
	}
	if err := s.Emit(sample); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkCloseLeavesSharedDBOpen(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	s := NewTimescaleSink(db, "bench_samples")
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// The pool stays usable after the sink releases it.
	if err := db.Ping(); err != nil {
		t.Fatalf("shared db closed by sink: %v", err)
	}
	_ = mock
}

func TestTimescaleSinkName(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	s := NewTimescaleSink(db, "bench_samples")
	if s.Name() != "timescaledb" {
		t.Fatalf("expected sink name timescaledb, got %s", s.Name())
	}
}
