package sink

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/moonmd/SCPI-Bench/internal/domain"
	"github.com/moonmd/SCPI-Bench/internal/ports"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS bench_samples (
	run_id       TEXT NOT NULL,
	t_s          REAL NOT NULL,
	step         INTEGER NOT NULL,
	v_set        REAL NOT NULL,
	i_set        REAL NOT NULL,
	v_meas       REAL NOT NULL,
	i_meas       REAL NOT NULL,
	scope_vpp    REAL,
	scope_vrms   REAL,
	temp_c       REAL,
	humidity_pct REAL,
	ens_ok       INTEGER NOT NULL,
	PRIMARY KEY (run_id, t_s)
)`

const sqliteInsert = `INSERT OR IGNORE INTO bench_samples
	(run_id, t_s, step, v_set, i_set, v_meas, i_meas, scope_vpp, scope_vrms, temp_c, humidity_pct, ens_ok)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`

// SQLiteSink keeps a local copy of the run in a single-file database, the
// no-infrastructure option for benches without a TimescaleDB reachable.
type SQLiteSink struct {
	db     *sql.DB
	ownsDB bool
}

// OpenSQLite opens (creating if needed) the database at path and ensures
// the sample table exists. ":memory:" works for tests.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s, err := NewSQLiteSink(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewSQLiteSink wraps an existing handle and ensures the schema.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create sample table: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Emit(smp *domain.Sample) error {
	_, err := s.db.Exec(sqliteInsert,
		smp.RunID,
		smp.T,
		smp.Step,
		smp.VSet,
		smp.ISet,
		smp.VMeas,
		smp.IMeas,
		smp.ScopeVpp,
		smp.ScopeVrms,
		smp.TempC,
		smp.HumidityPct,
		smp.EnsOK,
	)
	return err
}

func (s *SQLiteSink) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

var _ ports.Sink = (*SQLiteSink)(nil)
