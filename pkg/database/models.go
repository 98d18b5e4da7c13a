package database

import "time"

// AlertRecord is the durable row shape for a published alertbus.Alert.
// InsertedSeq preserves the bus's insertion order across a restart, since
// SQLite's own rowid is not guaranteed stable once WAL checkpoints compact
// the file.
type AlertRecord struct {
	ID          string    `db:"id" json:"id"`
	Severity    string    `db:"severity" json:"severity"`
	Message     string    `db:"message" json:"message"`
	Port        int       `db:"port" json:"port"`
	Subject     string    `db:"subject" json:"subject"`
	Timestamp   time.Time `db:"ts" json:"timestamp"`
	InsertedSeq int64     `db:"inserted_seq" json:"inserted_seq"`
}

// FileRecordRow is one file entry belonging to a device snapshot.
type FileRecordRow struct {
	SnapshotID string `db:"snapshot_id" json:"snapshot_id"`
	Path       string `db:"path" json:"path"`
	SHA256     string `db:"sha256" json:"sha256"`
	SizeBytes  int64  `db:"size_bytes" json:"size_bytes"`
	ModTime    int64  `db:"mod_time" json:"mod_time"`
}

// SnapshotRecord is the manifest row for one device's file tree at one
// sampling cycle, grounded on usb_monitor.c's manifest-file persistence.
type SnapshotRecord struct {
	ID        string    `db:"id" json:"id"`
	Device    string    `db:"device" json:"device"`
	Timestamp time.Time `db:"ts" json:"timestamp"`
}

// Operator is the single dashboard credential. There is exactly one row in
// the operators table: this toolkit has no multi-user directory.
type Operator struct {
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
