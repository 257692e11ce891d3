package crawler

import (
	"context"
	"fmt"
)

// ChangeDetector compares remote change markers with stored ones.
type ChangeDetector struct {
	markers MarkerReader
}

// NewChangeDetector builds a detector backed by the given marker reader.
func NewChangeDetector(markers MarkerReader) *ChangeDetector {
	return &ChangeDetector{markers: markers}
}

// NeedsReprocessing reports whether the entity must be rebuilt. Absent
// entities, entities without a stored marker, and records whose remote
// marker is nil always need reprocessing. Otherwise markers are compared for
// exact equality.
func (d *ChangeDetector) NeedsReprocessing(ctx context.Context, target MarkerTarget, remote *string) (bool, error) {
	if remote == nil {
		return true, nil
	}
	stored, ok, err := d.markers.Marker(ctx, target)
	if err != nil {
		return false, fmt.Errorf("lookup marker %s[%s]: %w", target.Collection, target.Key, err)
	}
	if !ok {
		return true, nil
	}
	return stored != *remote, nil
}
