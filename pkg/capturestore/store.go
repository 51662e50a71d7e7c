// Package capturestore keeps the most recent published capture so it can be
// served without subscribing to the bus.
package capturestore

import (
	"context"
	"errors"
	"time"

	"github.com/illmade-knight/go-captureflow/pkg/publish"
)

// ErrNotFound is returned by Latest when nothing has been stored yet.
var ErrNotFound = errors.New("no capture recorded")

// Record is one published capture event and where it went.
type Record struct {
	RunID       string              `json:"run_id" firestore:"run_id"`
	Topic       string              `json:"topic" firestore:"topic"`
	PublishedAt time.Time           `json:"published_at" firestore:"published_at"`
	Event       publish.EventRecord `json:"event" firestore:"event"`
}

// Store holds the latest Record. Put replaces whatever was there.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Latest(ctx context.Context) (Record, error)
	Close() error
}
