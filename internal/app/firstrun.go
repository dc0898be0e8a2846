// Package app holds per-user state kept outside any run's output directory.
package app

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	appName        = "snapspectre"
	noticeMarker   = "notice_acknowledged"
	configDirPerms = 0o755
)

// FirstRunNotice is shown once per user before the first reconciliation.
const FirstRunNotice = `snapspectre only proposes deletions. Each cluster gets a <cluster>.snapdelete.sh
script that nothing runs automatically: review it, then execute it yourself.
Snapshots newer than the retention window are never proposed.`

// GetAppConfigDir returns the per-user snapspectre directory.
func GetAppConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appName), nil
}

// IsFirstRun reports whether the notice has never been shown for this user,
// and records that it now has. Any filesystem problem counts as not first run
// so the notice never blocks a scheduled run.
func IsFirstRun() bool {
	dir, err := GetAppConfigDir()
	if err != nil {
		slog.Debug("no user config directory, skipping first-run notice", slog.String("error", err.Error()))
		return false
	}
	return isFirstRunIn(dir)
}

func isFirstRunIn(dir string) bool {
	marker := filepath.Join(dir, noticeMarker)

	_, err := os.Stat(marker)
	switch {
	case err == nil:
		return false
	case !errors.Is(err, os.ErrNotExist):
		slog.Warn("cannot check first-run marker", slog.String("path", marker), slog.String("error", err.Error()))
		return false
	}

	if err := os.MkdirAll(dir, configDirPerms); err != nil {
		slog.Warn("cannot create config directory", slog.String("path", dir), slog.String("error", err.Error()))
		return false
	}
	// O_EXCL: two concurrent first runs show the notice once.
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if !errors.Is(err, os.ErrExist) {
			slog.Warn("cannot record first-run marker", slog.String("path", marker), slog.String("error", err.Error()))
		}
		return false
	}
	f.Close()
	return true
}
