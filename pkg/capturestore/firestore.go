package capturestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig names the document holding the latest record.
type FirestoreConfig struct {
	CollectionName string
	DocumentID     string
}

// FirestoreStore keeps the latest record in a single Firestore document. It
// suits low-volume deployments that already run on Google Cloud.
type FirestoreStore struct {
	client *firestore.Client
	doc    *firestore.DocumentRef
	logger zerolog.Logger
}

// NewFirestoreStore uses an externally managed client.
func NewFirestoreStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" || cfg.DocumentID == "" {
		return nil, errors.New("firestore collection and document id are required")
	}
	return &FirestoreStore{
		client: client,
		doc:    client.Collection(cfg.CollectionName).Doc(cfg.DocumentID),
		logger: logger.With().Str("component", "FirestoreStore").Str("collection", cfg.CollectionName).Logger(),
	}, nil
}

// Put overwrites the document.
func (s *FirestoreStore) Put(ctx context.Context, rec Record) error {
	if _, err := s.doc.Set(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("doc_id", s.doc.ID).Msg("Failed to write latest capture to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", s.doc.ID, err)
	}
	return nil
}

// Latest reads the document. A missing document is ErrNotFound.
func (s *FirestoreStore) Latest(ctx context.Context) (Record, error) {
	snap, err := s.doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("firestore get for %s: %w", s.doc.ID, err)
	}
	var rec Record
	if err := snap.DataTo(&rec); err != nil {
		return Record{}, fmt.Errorf("firestore DataTo for %s: %w", s.doc.ID, err)
	}
	return rec, nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error {
	return nil
}
