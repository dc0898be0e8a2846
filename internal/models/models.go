package models

import (
	"fmt"
	"time"
)

// JobID is a backup job identifier from the job-history database
type JobID int64

// VolumeRecord is a storage volume as listed by the array
type VolumeRecord struct {
	Name    string `json:"name"`
	UUID    string `json:"uuid"` // opaque handle for snapshot listing
	SVMName string `json:"svm"`
}

// SnapshotRecord is one point-in-time snapshot of a volume
type SnapshotRecord struct {
	Name         string    `json:"name"`
	CreationTime time.Time `json:"creation_time"`
	VolumeName   string    `json:"volume"`
	SVMName      string    `json:"svm"`
	ClusterHost  string    `json:"cluster_host"` // FQDN the snapshot was listed from
}

// Fingerprint identifies a snapshot across runs.
func (s SnapshotRecord) Fingerprint(cluster string) string {
	return fmt.Sprintf("%s/%s/%s/%s", cluster, s.SVMName, s.VolumeName, s.Name)
}

// Decision is the reconciliation outcome for one snapshot
type Decision int

const (
	// Ignore marks snapshots outside the backup system's naming scheme.
	Ignore Decision = iota
	// Keep marks managed snapshots that are referenced or too recent to judge.
	Keep
	// CandidateDelete marks managed snapshots proposed for deletion.
	CandidateDelete
)

func (d Decision) String() string {
	switch d {
	case Ignore:
		return "ignore"
	case Keep:
		return "keep"
	case CandidateDelete:
		return "candidate_delete"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// DeletionCandidate is a snapshot proposed for deletion
type DeletionCandidate struct {
	Snapshot SnapshotRecord `json:"snapshot"`
	JobID    JobID          `json:"job_id"`
}
