// Package reporter renders reconciliation plans into deletion scripts and run
// reports.
package reporter

import (
	"io"

	"github.com/ppiankov/snapspectre/internal/models"
	"github.com/ppiankov/snapspectre/pkg/config"
)

// Reporter writes the artifacts of a run
type Reporter interface {
	RenderScript(plan *models.ClusterPlan) ([]byte, error)
	WriteScript(plan *models.ClusterPlan) (string, error)
	RetireScript(cluster string) (string, error)
	Generate(report *models.Report, out io.Writer) error
}

// reporter implements the Reporter interface
type reporter struct {
	config *config.Config
	opts   ScriptOptions
}

// New creates a new reporter instance. The configured timezone must already be valid.
func New(cfg *config.Config) (Reporter, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &reporter{
		config: cfg,
		opts: ScriptOptions{
			SSHUser:  cfg.SSHUser,
			Location: loc,
		},
	}, nil
}

// RenderScript renders one cluster's deletion script without writing it.
func (r *reporter) RenderScript(plan *models.ClusterPlan) ([]byte, error) {
	return RenderScript(plan, r.opts)
}

// WriteScript writes one cluster's deletion script into the output directory.
func (r *reporter) WriteScript(plan *models.ClusterPlan) (string, error) {
	return WriteScript(r.config.OutputDir, plan, r.opts)
}

// RetireScript moves a failed cluster's previous script out of the way.
func (r *reporter) RetireScript(cluster string) (string, error) {
	return RetireScript(r.config.OutputDir, cluster)
}

// Generate writes the JSON report, unless this is a dry run, and the text summary.
func (r *reporter) Generate(report *models.Report, out io.Writer) error {
	if !r.config.DryRun {
		if _, err := WriteJSON(report, r.config.OutputDir); err != nil {
			return err
		}
	}
	return WriteText(out, report)
}
