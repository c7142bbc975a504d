// Package sheet persists finalized lead records to a durable sink.
// The gateway contract mirrors an append-only spreadsheet: one row per
// completed session, keyed for idempotency by the caller.
package sheet

import (
	"context"
	"errors"

	"github.com/ashureev/kempenbot/internal/domain"
)

// ErrAppendFailed wraps any sink failure. The caller keeps its
// persisted-once guard false so the write can be retried later.
var ErrAppendFailed = errors.New("append to sheet failed")

// Gateway appends one finalized session record to durable storage.
type Gateway interface {
	// Append writes the record. A second call with the same idempotency
	// key acknowledges without writing a second row.
	Append(ctx context.Context, rec *domain.LeadRecord, idempotencyKey string) error

	// Ping verifies the sink is reachable.
	Ping(ctx context.Context) error

	// Close releases the sink.
	Close() error
}
