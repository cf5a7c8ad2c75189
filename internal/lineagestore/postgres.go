package lineagestore

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// dbHandle is the subset of *sqlx.DB / *sqlx.Tx this package needs, so
// PostgresStore can wrap either a live connection or an open transaction
// behind the same type.
type dbHandle interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore is the durable Store backing production deployments.
type PostgresStore struct {
	db dbHandle
}

// NewPostgresStore opens (and pings) a connection to connStr.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (Store, error) {
	db, ok := s.db.(*sqlx.DB)
	if !ok {
		return nil, fmt.Errorf("cannot begin transaction on unknown handle type")
	}
	tx, err := db.Beginx()
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: tx}, nil
}

func (s *PostgresStore) Commit() error {
	tx, ok := s.db.(*sqlx.Tx)
	if !ok {
		return fmt.Errorf("cannot commit: not a transaction")
	}
	return tx.Commit()
}

func (s *PostgresStore) Rollback() error {
	tx, ok := s.db.(*sqlx.Tx)
	if !ok {
		return fmt.Errorf("cannot rollback: not a transaction")
	}
	return tx.Rollback()
}

func (s *PostgresStore) Close() error {
	db, ok := s.db.(*sqlx.DB)
	if !ok {
		return nil // no-op for *sqlx.Tx
	}
	return db.Close()
}

func (s *PostgresStore) Save(snap Snapshot) error {
	// Both columns are NOT NULL; a nil slice would be sent as NULL.
	if snap.SpecBlob == nil {
		snap.SpecBlob = []byte{}
	}
	if snap.ReconstructableReturnIDs == nil {
		snap.ReconstructableReturnIDs = []string{}
	}
	_, err := s.db.Exec(`
		INSERT INTO lineage_entries (task_id, spec_blob, num_retries_left, pending, num_successful_executions, reconstructable_return_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO UPDATE SET
			spec_blob = EXCLUDED.spec_blob,
			num_retries_left = EXCLUDED.num_retries_left,
			pending = EXCLUDED.pending,
			num_successful_executions = EXCLUDED.num_successful_executions,
			reconstructable_return_ids = EXCLUDED.reconstructable_return_ids`,
		snap.TaskID, snap.SpecBlob, snap.NumRetriesLeft, snap.Pending, snap.NumSuccessfulExecutions,
		pq.Array(snap.ReconstructableReturnIDs))
	if err != nil {
		return fmt.Errorf("save lineage snapshot %s: %w", snap.TaskID, err)
	}
	return nil
}

type snapshotRow struct {
	TaskID                   string         `db:"task_id"`
	SpecBlob                 []byte         `db:"spec_blob"`
	NumRetriesLeft           int            `db:"num_retries_left"`
	Pending                  bool           `db:"pending"`
	NumSuccessfulExecutions  int            `db:"num_successful_executions"`
	ReconstructableReturnIDs pq.StringArray `db:"reconstructable_return_ids"`
}

func (r snapshotRow) toSnapshot() Snapshot {
	return Snapshot{
		TaskID:                   r.TaskID,
		SpecBlob:                 r.SpecBlob,
		NumRetriesLeft:           r.NumRetriesLeft,
		Pending:                  r.Pending,
		NumSuccessfulExecutions:  r.NumSuccessfulExecutions,
		ReconstructableReturnIDs: []string(r.ReconstructableReturnIDs),
	}
}

func (s *PostgresStore) Load(taskID string) (Snapshot, error) {
	var row snapshotRow
	err := s.db.Get(&row, "SELECT task_id, spec_blob, num_retries_left, pending, num_successful_executions, reconstructable_return_ids FROM lineage_entries WHERE task_id = $1", taskID)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return row.toSnapshot(), nil
}

func (s *PostgresStore) Delete(taskID string) error {
	_, err := s.db.Exec("DELETE FROM lineage_entries WHERE task_id = $1", taskID)
	return err
}

func (s *PostgresStore) LoadAll() ([]Snapshot, error) {
	var rows []snapshotRow
	err := s.db.Select(&rows, "SELECT task_id, spec_blob, num_retries_left, pending, num_successful_executions, reconstructable_return_ids FROM lineage_entries")
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, len(rows))
	for i, r := range rows {
		out[i] = r.toSnapshot()
	}
	return out, nil
}
