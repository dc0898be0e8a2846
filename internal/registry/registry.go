// Package registry loads the set of backup job ids that still justify keeping
// their snapshots.
package registry

import (
	"context"
	"slices"

	"github.com/ppiankov/snapspectre/internal/models"
)

// Registry is the set of currently valid job ids. Built once, read-only afterward.
type Registry map[models.JobID]struct{}

// New builds a registry from ids, collapsing duplicates.
func New(ids ...models.JobID) Registry {
	r := make(Registry, len(ids))
	for _, id := range ids {
		r[id] = struct{}{}
	}
	return r
}

// Contains reports whether id is a retained job.
func (r Registry) Contains(id models.JobID) bool {
	_, ok := r[id]
	return ok
}

// Len returns the number of distinct job ids.
func (r Registry) Len() int {
	return len(r)
}

// Sorted returns the ids in ascending order, for display only.
func (r Registry) Sorted() []models.JobID {
	ids := make([]models.JobID, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Source loads a registry from the job history
type Source interface {
	Load(ctx context.Context) (Registry, error)
	Close() error
}
