package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/ppiankov/snapspectre/internal/baseline"
	"github.com/ppiankov/snapspectre/internal/models"
	"github.com/ppiankov/snapspectre/pkg/config"
)

// Engine reconciles cluster catalogs against one registry and cutoff
type Engine struct {
	jobs     JobSet
	cutoff   time.Time
	policy   string
	reviewed baseline.Set
}

// NewEngine creates an engine. reviewed may be nil.
func NewEngine(jobs JobSet, cutoff time.Time, malformedPolicy string, reviewed baseline.Set) *Engine {
	if malformedPolicy == "" {
		malformedPolicy = config.MalformedAbort
	}
	return &Engine{
		jobs:     jobs,
		cutoff:   cutoff,
		policy:   malformedPolicy,
		reviewed: reviewed,
	}
}

// Cutoff returns the retention boundary the engine judges against.
func (e *Engine) Cutoff() time.Time {
	return e.cutoff
}

// Reconcile consumes one cluster's snapshot sequence and returns its plan.
// Any enumeration error fails the whole cluster: a partial plan is never returned.
func (e *Engine) Reconcile(
	ctx context.Context,
	cluster string,
	host string,
	snapshots iter.Seq2[models.SnapshotRecord, error],
) (*models.ClusterPlan, error) {
	plan := &models.ClusterPlan{
		Cluster:    cluster,
		Host:       host,
		Candidates: []models.DeletionCandidate{},
	}

	for snapshot, err := range snapshots {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision, jobID, err := decide(snapshot, e.jobs, e.cutoff)
		if err != nil {
			var nameErr *NameError
			if errors.As(err, &nameErr) && e.policy == config.MalformedSkip {
				plan.Tally.Malformed++
				slog.Warn("skipping malformed managed snapshot",
					slog.String("cluster", cluster),
					slog.String("svm", snapshot.SVMName),
					slog.String("volume", snapshot.VolumeName),
					slog.String("snapshot", snapshot.Name),
					slog.String("reason", nameErr.Reason),
				)
				continue
			}
			return nil, fmt.Errorf("cluster %s volume %s/%s: %w",
				cluster, snapshot.SVMName, snapshot.VolumeName, err)
		}

		switch decision {
		case models.Ignore:
			plan.Tally.Ignore++
		case models.Keep:
			plan.Tally.Keep++
		case models.CandidateDelete:
			if e.reviewed.Contains(snapshot.Fingerprint(cluster)) {
				plan.Tally.Keep++
				plan.Tally.Protected++
				continue
			}
			plan.Tally.Delete++
			plan.Candidates = append(plan.Candidates, models.DeletionCandidate{
				Snapshot: snapshot,
				JobID:    jobID,
			})
		}
	}

	slog.Debug("cluster reconciled",
		slog.String("cluster", cluster),
		slog.Int("keep", plan.Tally.Keep),
		slog.Int("candidate_delete", plan.Tally.Delete),
		slog.Int("ignore", plan.Tally.Ignore),
		slog.Int("protected", plan.Tally.Protected),
		slog.Int("malformed", plan.Tally.Malformed),
	)

	return plan, nil
}
