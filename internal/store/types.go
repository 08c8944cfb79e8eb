package store

import (
	"context"
	"time"
)

// AlertRecord is one persisted violation alert.
type AlertRecord struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	Kind           string    `json:"kind"`
	Message        string    `json:"message"`
	ElapsedSeconds float64   `json:"elapsedSeconds"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store persists and retrieves violation alerts for audit.
type Store interface {
	SaveAlert(ctx context.Context, record AlertRecord) error
	RecentAlerts(ctx context.Context, sessionID string, limit int) ([]AlertRecord, error)
	Close() error
}
