// Package reconcile decides, snapshot by snapshot, whether a managed snapshot
// is still referenced by a retained backup job.
package reconcile

import (
	"errors"
	"time"

	"github.com/ppiankov/snapspectre/internal/models"
)

// JobSet is the set of retained job ids.
type JobSet interface {
	Contains(id models.JobID) bool
}

// Cutoff returns the retention boundary: now in loc minus days whole days.
// Snapshots created at or after it are never deletion candidates.
func Cutoff(now time.Time, loc *time.Location, days int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Add(-time.Duration(days) * 24 * time.Hour)
}

// Decide classifies one snapshot. Unmanaged names are IGNORE with a nil error.
// A malformed managed name returns IGNORE with a *NameError.
func Decide(snapshot models.SnapshotRecord, jobs JobSet, cutoff time.Time) (models.Decision, error) {
	decision, _, err := decide(snapshot, jobs, cutoff)
	return decision, err
}

func decide(snapshot models.SnapshotRecord, jobs JobSet, cutoff time.Time) (models.Decision, models.JobID, error) {
	name, err := ParseSnapshotName(snapshot.Name)
	if err != nil {
		if errors.Is(err, ErrUnmanaged) {
			return models.Ignore, 0, nil
		}
		return models.Ignore, 0, err
	}

	if jobs != nil && jobs.Contains(name.JobID) {
		return models.Keep, name.JobID, nil
	}

	// Unknown age cannot be proven older than the cutoff.
	if snapshot.CreationTime.IsZero() || !snapshot.CreationTime.Before(cutoff) {
		return models.Keep, name.JobID, nil
	}

	return models.CandidateDelete, name.JobID, nil
}
