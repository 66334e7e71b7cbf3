package entity

import "time"

// SnapshotStatus is the lifecycle stage of one audit generation. At most
// one "current" and one "new" snapshot exist at any time; retired
// generations become "old".
type SnapshotStatus string

const (
	SnapshotNew     SnapshotStatus = "new"
	SnapshotCurrent SnapshotStatus = "current"
	SnapshotOld     SnapshotStatus = "old"
)

// Snapshot mirrors the snapshots PostgreSQL table schema.
type Snapshot struct {
	ID        int64
	Status    SnapshotStatus
	CreatedAt time.Time
}

// AuditState is the engine's externally visible state.
type AuditState string

const (
	AuditIdle     AuditState = "idle"
	AuditRunning  AuditState = "running"
	AuditPaused   AuditState = "paused"
	AuditComplete AuditState = "complete"
)
