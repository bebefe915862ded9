package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// QuotaResource names a metered admission resource.
type QuotaResource string

const ResourceRCARequest QuotaResource = "rca_request"

// QuotaWindowKey renders the UTC day stamp used as the counter window.
func QuotaWindowKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// QuotaResetAt returns the next UTC midnight after t, when the daily window
// rolls over.
func QuotaResetAt(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

type QuotaRepository interface {
	// Increment atomically increments the (workspace, resource, windowKey)
	// counter iff the current count is below limit. It returns the count
	// after the call and whether the increment was admitted.
	Increment(ctx context.Context, workspaceID uuid.UUID, resource QuotaResource, windowKey string, limit int) (count int, admitted bool, err error)
	Count(ctx context.Context, workspaceID uuid.UUID, resource QuotaResource, windowKey string) (int, error)
}
