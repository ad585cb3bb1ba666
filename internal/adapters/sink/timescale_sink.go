package sink

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/moonmd/SCPI-Bench/internal/domain"
	"github.com/moonmd/SCPI-Bench/internal/ports"
)

// TimescaleSink streams samples into a Postgres/TimescaleDB hypertable.
// Inserts are idempotent on (run_id, t_s), so re-emitting after a
// reconnect cannot duplicate rows.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
	insert    string
	ownsDB    bool
}

// NewTimescaleSink wraps an existing connection pool; the caller keeps
// ownership of db and Close leaves it open.
func NewTimescaleSink(db *sql.DB, table string) *TimescaleSink {
	return &TimescaleSink{db: db, tableName: table, insert: insertStatement(table)}
}

// OpenTimescale opens a pool for connString and verifies connectivity.
func OpenTimescale(connString, table string) (*TimescaleSink, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("open timescale: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping timescale: %w", err)
	}
	s := NewTimescaleSink(db, table)
	s.ownsDB = true
	return s, nil
}

func insertStatement(table string) string {
	return fmt.Sprintf("INSERT INTO %s"+
		" (run_id, t_s, step, v_set, i_set, v_meas, i_meas, scope_vpp, scope_vrms, temp_c, humidity_pct, ens_ok)"+
		" VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)"+
		" ON CONFLICT (run_id, t_s) DO NOTHING", table)
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

func (t *TimescaleSink) Emit(s *domain.Sample) error {
	_, err := t.db.Exec(t.insert,
		s.RunID,
		s.T,
		s.Step,
		s.VSet,
		s.ISet,
		s.VMeas,
		s.IMeas,
		s.ScopeVpp,
		s.ScopeVrms,
		s.TempC,
		s.HumidityPct,
		s.EnsOK,
	)
	return err
}

func (t *TimescaleSink) Close() error {
	if !t.ownsDB {
		return nil
	}
	return t.db.Close()
}

var _ ports.Sink = (*TimescaleSink)(nil)
