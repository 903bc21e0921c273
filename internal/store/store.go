package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/draftspace/internal/model"
)

// ErrSpaceNotFound is returned when no persisted row exists for an id.
var ErrSpaceNotFound = errors.New("composition space not found in store")

// Store defines the persistence contract the in-memory draft cache
// writes through to. Serialization of draft fields is the store's
// concern; the cache hands over model types unchanged.
type Store interface {
	// CreateSpace persists a new composition space with the given initial
	// draft and returns the authoritative space id and the initial
	// last-modified stamp (unix milliseconds).
	CreateSpace(ctx context.Context, owner model.Owner, initial *model.DraftMessage, clientToken string) (string, int64, error)

	// UpdateSpace applies a sparse delta to a persisted space. Only
	// fields present in the delta are written.
	UpdateSpace(ctx context.Context, id string, delta *model.DraftDelta) error

	// CloseSpace removes a persisted space.
	CloseSpace(ctx context.Context, id string) error

	// DeleteExpired deletes all of owner's spaces that have been idle
	// longer than maxIdle and returns the ids of the deleted rows.
	DeleteExpired(ctx context.Context, owner model.Owner, maxIdle time.Duration) ([]string, error)

	// GetSnapshot loads the full persisted draft for a space, e.g. to
	// rehydrate after a restart. While a space is open in memory, the
	// in-memory copy is authoritative and this is not consulted.
	GetSnapshot(ctx context.Context, id string) (*model.DraftMessage, error)
}
