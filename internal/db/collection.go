package db

import (
	"context"

	"github.com/ukydev/sumo-bridge/internal/models"
)

// StatusCollection defines persistence for the simulation status record.
type StatusCollection interface {
	// GetStatus returns the per-install status record, creating a fresh
	// stopped record if none exists yet.
	GetStatus(ctx context.Context) (*models.SimulationStatus, error)
	// SaveStatus rewrites the whole status document.
	SaveStatus(ctx context.Context, status models.SimulationStatus) error
}

// AuditCollection defines the sink for control-plane audit records.
type AuditCollection interface {
	InsertAudit(ctx context.Context, record models.AuditRecord) error
}
