package reporter

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ppiankov/snapspectre/internal/models"
)

const (
	// Interpreter is the first line of every generated script.
	Interpreter = "#!/usr/bin/bash"
	// ScriptSuffix is appended to the cluster short name.
	ScriptSuffix = ".snapdelete.sh"
	// TimeLayout renders the audit comment after each command.
	TimeLayout = "2006-01-02 15:04:05-07:00"
	// StaleSuffix marks a script left by an earlier run of a cluster that failed since.
	StaleSuffix = ".stale"

	defaultSSHUser = "admin"
)

var safeToken = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// UnsafeNameError reports a value that cannot be placed in a shell command verbatim.
type UnsafeNameError struct {
	Field string
	Value string
}

func (e *UnsafeNameError) Error() string {
	return fmt.Sprintf("refusing to render %s %q: only letters, digits and _ . : - are allowed", e.Field, e.Value)
}

// ScriptOptions control how commands are rendered
type ScriptOptions struct {
	SSHUser  string
	Location *time.Location // zone for the audit comment, UTC when nil
}

// ScriptName returns the script file name for a cluster.
func ScriptName(cluster string) string {
	return cluster + ScriptSuffix
}

// RenderScript renders the deletion script for one cluster plan. The output
// depends only on the plan and options.
func RenderScript(plan *models.ClusterPlan, opts ScriptOptions) ([]byte, error) {
	if plan == nil {
		return nil, errors.New("plan is nil")
	}

	user := opts.SSHUser
	if user == "" {
		user = defaultSSHUser
	}
	if err := checkToken("ssh user", user); err != nil {
		return nil, err
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	var b bytes.Buffer
	b.WriteString(Interpreter)
	b.WriteByte('\n')

	for _, candidate := range plan.Candidates {
		s := candidate.Snapshot
		host := s.ClusterHost
		if host == "" {
			host = plan.Host
		}

		for _, field := range []struct{ name, value string }{
			{"cluster host", host},
			{"svm", s.SVMName},
			{"volume", s.VolumeName},
			{"snapshot", s.Name},
		} {
			if err := checkToken(field.name, field.value); err != nil {
				return nil, err
			}
		}

		fmt.Fprintf(&b, "ssh %s@%s \"snapshot delete -vserver %s -volume %s -snapshot %s\" #%s\n",
			user, host, s.SVMName, s.VolumeName, s.Name, s.CreationTime.In(loc).Format(TimeLayout))
	}

	return b.Bytes(), nil
}

func checkToken(field, value string) error {
	if !safeToken.MatchString(value) {
		return &UnsafeNameError{Field: field, Value: value}
	}
	return nil
}

// WriteScript renders and atomically writes <cluster>.snapdelete.sh into dir.
// A plan without candidates still produces a script holding only the interpreter line.
func WriteScript(dir string, plan *models.ClusterPlan, opts ScriptOptions) (string, error) {
	data, err := RenderScript(plan, opts)
	if err != nil {
		return "", err
	}
	if err := checkToken("cluster", plan.Cluster); err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, ScriptName(plan.Cluster))
	if err := writeFileAtomic(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// RetireScript renames dir/<cluster>.snapdelete.sh to <cluster>.snapdelete.sh.stale,
// replacing an older stale copy. It returns the stale path, or "" when the
// cluster had no script.
func RetireScript(dir, cluster string) (string, error) {
	path := filepath.Join(dir, ScriptName(cluster))
	stale := path + StaleSuffix
	if err := os.Rename(path, stale); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to retire %s: %w", filepath.Base(path), err)
	}
	return stale, nil
}

// writeFileAtomic writes through a temp file in the same directory and renames it
// into place, so readers never see a half-written file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
