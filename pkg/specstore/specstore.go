// Package specstore defines the boundary to durable storage of the
// declarative workflow spec. The engine treats the spec as an opaque text
// blob keyed by a generated location.
package specstore

import (
	"context"

	"github.com/1ambda/dataops-platform-sub014/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Read when no spec exists at the location.
var ErrNotFound = errors.New("spec not found")

type SpecStore interface {
	// Save persists the spec text and returns its location. The location is
	// content-addressed by source type, so MANUAL and CODE specs for the same
	// dataset never collide.
	Save(ctx context.Context, datasetName string, sourceType models.SourceType, specText string) (string, error)
	Read(ctx context.Context, location string) (string, error)
	Update(ctx context.Context, location, specText string) (string, error)
	Delete(ctx context.Context, location string) error
}
