package reconcile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/snapspectre/internal/models"
)

// ManagedPrefix marks snapshots created by the backup system.
const ManagedPrefix = "SP_"

// ErrUnmanaged is returned for names outside the backup system's naming scheme.
var ErrUnmanaged = errors.New("snapshot is not managed by the backup system")

// Reasons reported by NameError
const (
	ReasonMissingJobID = "missing job id field"
	ReasonEmptyJobID   = "empty job id field"
	ReasonNotInteger   = "job id is not an integer"
	ReasonOutOfRange   = "job id is out of range"
)

// NameError reports a managed name that does not carry a job id.
type NameError struct {
	Name   string
	Reason string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("malformed managed snapshot name %q: %s", e.Name, e.Reason)
}

// SnapshotName is a parsed managed snapshot name: SP_<field>_<jobid>[_<rest>]
type SnapshotName struct {
	Field string
	JobID models.JobID
	Rest  string // everything after the job id, without the separator
}

// ParseSnapshotName extracts the embedded job id from a managed snapshot name.
func ParseSnapshotName(name string) (SnapshotName, error) {
	if !strings.HasPrefix(name, ManagedPrefix) {
		return SnapshotName{}, ErrUnmanaged
	}

	parts := strings.SplitN(name[len(ManagedPrefix):], "_", 3)
	if len(parts) < 2 {
		return SnapshotName{}, &NameError{Name: name, Reason: ReasonMissingJobID}
	}

	raw := parts[1]
	if raw == "" {
		return SnapshotName{}, &NameError{Name: name, Reason: ReasonEmptyJobID}
	}
	// Job ids are unsigned: a leading + or - is malformed.
	for _, r := range raw {
		if r < '0' || r > '9' {
			return SnapshotName{}, &NameError{Name: name, Reason: ReasonNotInteger}
		}
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return SnapshotName{}, &NameError{Name: name, Reason: ReasonOutOfRange}
	}

	parsed := SnapshotName{Field: parts[0], JobID: models.JobID(id)}
	if len(parts) == 3 {
		parsed.Rest = parts[2]
	}
	return parsed, nil
}
