package sources

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-querycache/pkg/querycache"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore client.
type FirestoreConfig struct {
	ProjectID      string `yaml:"project_id"`
	CollectionName string `yaml:"collection"`
}

// FirestoreSource reads documents of one collection as query values.
type FirestoreSource[V any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreSource creates a source over cfg.CollectionName. The client's
// lifecycle is managed by the caller.
func NewFirestoreSource[V any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreSource[V], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg == nil || cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection cannot be empty")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreSource initialized.")

	return &FirestoreSource[V]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreSource").Logger(),
	}, nil
}

// Get reads and decodes a single document.
func (s *FirestoreSource[V]) Get(ctx context.Context, docID string) (V, error) {
	var zero V
	docSnap, err := s.client.Collection(s.collectionName).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Warn().Str("doc_id", docID).Msg("Document not found in Firestore.")
			return zero, fmt.Errorf("%w: firestore document %s: %w", ErrNotFound, docID, err)
		}
		s.logger.Error().Err(err).Str("doc_id", docID).Msg("Failed to get document from Firestore.")
		return zero, fmt.Errorf("firestore get for %s: %w", docID, err)
	}

	var value V
	if err := docSnap.DataTo(&value); err != nil {
		s.logger.Error().Err(err).Str("doc_id", docID).Msg("Failed to map Firestore document data.")
		return zero, fmt.Errorf("firestore DataTo for %s: %w", docID, err)
	}

	s.logger.Debug().Str("doc_id", docID).Msg("Successfully fetched data from Firestore.")
	return value, nil
}

// Document returns a fetch function for one document.
func (s *FirestoreSource[V]) Document(docID string) querycache.FetchFunc {
	return querycache.Typed(func(ctx context.Context) (V, error) {
		return s.Get(ctx, docID)
	})
}
