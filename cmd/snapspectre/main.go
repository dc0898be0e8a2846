package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ppiankov/snapspectre/internal/app"
	"github.com/ppiankov/snapspectre/internal/logging"
	"github.com/ppiankov/snapspectre/internal/models"
	"github.com/ppiankov/snapspectre/internal/reconcile"
	"github.com/ppiankov/snapspectre/internal/reporter"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	verbose    bool
	isFirstRun bool
)

// Exit codes for structured error reporting.
const (
	ExitSuccess    = 0
	ExitInternal   = 1
	ExitInvalidArg = 2
	ExitNotFound   = 3
	ExitNetwork    = 5
	ExitCandidates = 6
)

// CandidatesError indicates the run completed but deletion candidates were found.
type CandidatesError struct {
	Count int
}

func (e *CandidatesError) Error() string {
	return fmt.Sprintf("%d deletion candidates found", e.Count)
}

func main() {
	logging.Init(false)
	isFirstRun = app.IsFirstRun()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		exitCode := classifyError(err)
		var ce *CandidatesError
		if errors.As(err, &ce) {
			slog.Info("deletion candidates found", slog.Int("count", ce.Count))
		} else {
			slog.Error("command failed", slog.String("error", err.Error()))
		}
		os.Exit(exitCode)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "snapspectre",
		Short: "Storage snapshot retention reconciler",
		Long: `SnapSpectre compares backup-managed storage snapshots against the backup
job history and proposes deletion of snapshots whose job no longer exists.

It never deletes anything itself. Each cluster gets a reviewable shell script
of "snapshot delete" commands to be executed by an operator.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(verbose)
		},
	}

	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose logging")
	root.SilenceUsage = true
	root.SilenceErrors = true

	root.AddCommand(NewReconcileCmd())
	root.AddCommand(NewServeCmd())
	root.AddCommand(NewVersionCmd())
	return root
}

func classifyError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var ce *CandidatesError
	if errors.As(err, &ce) {
		return ExitCandidates
	}

	var connErr *models.ConnectionError
	if errors.As(err, &connErr) {
		return ExitNetwork
	}

	var nameErr *reconcile.NameError
	var unsafeErr *reporter.UnsafeNameError
	if errors.As(err, &nameErr) || errors.As(err, &unsafeErr) {
		return ExitInternal
	}

	if os.IsNotExist(err) {
		return ExitNotFound
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "not a directory") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "no such file") {
		return ExitNotFound
	}

	if strings.Contains(msg, "dial") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "network is unreachable") {
		return ExitNetwork
	}

	if strings.Contains(msg, "required") ||
		strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "must be") ||
		strings.Contains(msg, "expected") {
		return ExitInvalidArg
	}

	return ExitInternal
}
