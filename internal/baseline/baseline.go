// Package baseline records snapshots an operator has already reviewed so they
// are never proposed for deletion again.
package baseline

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ppiankov/snapspectre/internal/models"
)

const (
	// DefaultPath is used when --update-baseline is given without --baseline.
	DefaultPath = ".snapspectre-baseline.json"
	fileVersion = 2
)

// Entry is one reviewed snapshot, keyed by cluster/svm/volume/snapshot.
type Entry struct {
	Fingerprint string       `json:"fingerprint"`
	JobID       models.JobID `json:"job_id,omitempty"`
	ReviewedAt  time.Time    `json:"reviewed_at"`
}

// Set indexes reviewed entries by fingerprint.
type Set map[string]Entry

// File is the on-disk layout.
type File struct {
	Version   int     `json:"version"`
	Snapshots []Entry `json:"snapshots"`
}

// Load reads a baseline file. A missing file is an empty set.
func Load(path string) (Set, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("baseline path is empty")
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Set{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read baseline %s: %w", path, err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse baseline %s: %w", path, err)
	}
	if file.Version != fileVersion {
		return nil, fmt.Errorf("unsupported baseline version %d in %s", file.Version, path)
	}

	set := Set{}
	set.Add(file.Snapshots...)
	return set, nil
}

// Save writes the set ordered by fingerprint, replacing path atomically.
func Save(path string, set Set) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("baseline path is empty")
	}

	data, err := json.MarshalIndent(File{Version: fileVersion, Snapshots: set.Entries()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create baseline directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".baseline-*.tmp")
	if err != nil {
		return fmt.Errorf("write baseline %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write baseline %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write baseline %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("write baseline %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// Contains reports whether the snapshot was already reviewed.
func (s Set) Contains(fingerprint string) bool {
	_, ok := s[fingerprint]
	return ok
}

// Add merges entries into the set. Blank fingerprints are dropped and an
// existing entry keeps its original review time.
func (s Set) Add(entries ...Entry) {
	for _, e := range entries {
		e.Fingerprint = strings.TrimSpace(e.Fingerprint)
		if e.Fingerprint == "" {
			continue
		}
		if old, ok := s[e.Fingerprint]; ok && !old.ReviewedAt.IsZero() {
			continue
		}
		s[e.Fingerprint] = e
	}
}

// Entries returns the entries ordered by fingerprint.
func (s Set) Entries() []Entry {
	entries := make([]Entry, 0, len(s))
	for _, e := range s {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return cmp.Compare(a.Fingerprint, b.Fingerprint)
	})
	return entries
}

// Fingerprints returns the sorted fingerprints.
func (s Set) Fingerprints() []string {
	fingerprints := make([]string, 0, len(s))
	for _, e := range s.Entries() {
		fingerprints = append(fingerprints, e.Fingerprint)
	}
	return fingerprints
}

// Review turns every deletion candidate of a report into an entry reviewed at
// the given time. Failed clusters contribute nothing.
func Review(report *models.Report, at time.Time) []Entry {
	if report == nil {
		return nil
	}

	set := Set{}
	for _, result := range report.Clusters {
		if result.Plan == nil {
			continue
		}
		for _, c := range result.Plan.Candidates {
			set.Add(Entry{
				Fingerprint: c.Snapshot.Fingerprint(result.Cluster),
				JobID:       c.JobID,
				ReviewedAt:  at,
			})
		}
	}
	return set.Entries()
}
