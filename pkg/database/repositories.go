package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hostwatch/hostwatch/pkg/alertbus"
	"github.com/hostwatch/hostwatch/pkg/severity"
)

// AlertRepository persists published alerts and satisfies
// alertbus.Persister, so a *DB can be attached directly to a Bus with
// bus.SetPersister.
type AlertRepository struct {
	db  *DB
	seq int64
}

// NewAlertRepository creates a new alert repository, priming its insertion
// sequence counter from the highest inserted_seq already on disk so restarts
// keep appending rather than colliding with history.
func NewAlertRepository(db *DB) (*AlertRepository, error) {
	r := &AlertRepository{db: db}

	var max *int64
	if err := db.Get(&max, "SELECT MAX(inserted_seq) FROM alerts"); err != nil {
		return nil, fmt.Errorf("failed to read alert sequence high-water mark: %w", err)
	}
	if max != nil {
		r.seq = *max + 1
	}
	return r, nil
}

// Persist implements alertbus.Persister.
func (r *AlertRepository) Persist(a alertbus.Alert) error {
	record := AlertRecord{
		ID:          uuid.NewString(),
		Severity:    a.Severity.String(),
		Message:     a.Message,
		Port:        a.Port,
		Subject:     a.Subject,
		Timestamp:   a.Timestamp,
		InsertedSeq: r.seq,
	}
	r.seq++

	query := `
		INSERT INTO alerts (id, severity, message, port, subject, ts, inserted_seq)
		VALUES (:id, :severity, :message, :port, :subject, :ts, :inserted_seq)
	`
	if _, err := r.db.NamedExec(query, record); err != nil {
		return fmt.Errorf("failed to persist alert: %w", err)
	}
	return nil
}

// LoadAll implements alertbus.Persister, replaying every alert in
// insertion-sequence order.
func (r *AlertRepository) LoadAll() ([]alertbus.Alert, error) {
	var records []AlertRecord
	query := "SELECT * FROM alerts ORDER BY inserted_seq ASC"
	if err := r.db.Select(&records, query); err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}

	out := make([]alertbus.Alert, 0, len(records))
	for _, rec := range records {
		sev, err := severity.Parse(rec.Severity)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored severity %q: %w", rec.Severity, err)
		}
		out = append(out, alertbus.New(sev, rec.Message, rec.Port, rec.Subject, rec.Timestamp))
	}
	return out, nil
}

// Prune deletes alert rows older than cutoff, bounding how long history
// accumulates on disk.
func (r *AlertRepository) Prune(cutoff time.Time) error {
	_, err := r.db.Exec("DELETE FROM alerts WHERE ts < ?", cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune alerts: %w", err)
	}
	return nil
}

// SnapshotRepository persists filesystem-monitor device manifests, grounded
// on usb_monitor.c's on-disk manifest file.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new snapshot repository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Save writes one device's file manifest as a new snapshot row plus its
// file rows, inside a transaction.
func (r *SnapshotRepository) Save(device string, ts time.Time, files []FileRecordRow) (string, error) {
	tx, err := r.db.Beginx()
	if err != nil {
		return "", fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if _, err := tx.Exec("INSERT INTO fs_snapshots (id, device, ts) VALUES (?, ?, ?)", id, device, ts); err != nil {
		return "", fmt.Errorf("failed to insert snapshot: %w", err)
	}

	for _, f := range files {
		f.SnapshotID = id
		query := `
			INSERT INTO fs_files (snapshot_id, path, sha256, size_bytes, mod_time)
			VALUES (:snapshot_id, :path, :sha256, :size_bytes, :mod_time)
		`
		if _, err := tx.NamedExec(query, f); err != nil {
			return "", fmt.Errorf("failed to insert file record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit snapshot transaction: %w", err)
	}
	return id, nil
}

// Latest returns the most recent snapshot recorded for device, or an error
// if none exists yet.
func (r *SnapshotRepository) Latest(device string) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	query := "SELECT * FROM fs_snapshots WHERE device = ? ORDER BY ts DESC LIMIT 1"
	if err := r.db.Get(&rec, query, device); err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot for %s: %w", device, err)
	}
	return &rec, nil
}

// Files returns every file row belonging to snapshotID.
func (r *SnapshotRepository) Files(snapshotID string) ([]FileRecordRow, error) {
	var rows []FileRecordRow
	query := "SELECT * FROM fs_files WHERE snapshot_id = ?"
	if err := r.db.Select(&rows, query, snapshotID); err != nil {
		return nil, fmt.Errorf("failed to load snapshot files: %w", err)
	}
	return rows, nil
}

// OperatorRepository manages the single dashboard credential row.
type OperatorRepository struct {
	db *DB
}

// NewOperatorRepository creates a new operator repository.
func NewOperatorRepository(db *DB) *OperatorRepository {
	return &OperatorRepository{db: db}
}

// Upsert sets the operator's username and bcrypt password hash, replacing
// whatever credential previously existed.
func (r *OperatorRepository) Upsert(username, passwordHash string) error {
	query := `
		INSERT INTO operators (username, password_hash, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := r.db.Exec(query, username, passwordHash); err != nil {
		return fmt.Errorf("failed to upsert operator: %w", err)
	}
	return nil
}

// Get returns the operator credential, or an error if none has been set.
func (r *OperatorRepository) Get() (*Operator, error) {
	var op Operator
	if err := r.db.Get(&op, "SELECT * FROM operators LIMIT 1"); err != nil {
		return nil, fmt.Errorf("failed to load operator: %w", err)
	}
	return &op, nil
}
