package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/snapspectre/internal/app"
	"github.com/ppiankov/snapspectre/internal/baseline"
	"github.com/ppiankov/snapspectre/internal/catalog"
	"github.com/ppiankov/snapspectre/internal/k8s"
	"github.com/ppiankov/snapspectre/internal/models"
	"github.com/ppiankov/snapspectre/internal/reconcile"
	"github.com/ppiankov/snapspectre/internal/registry"
	"github.com/ppiankov/snapspectre/internal/reporter"
	"github.com/ppiankov/snapspectre/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// reconcileOptions holds flag values that are not config fields
type reconcileOptions struct {
	configPath      string
	queryTimeoutStr string
	arrayTimeoutStr string
}

// runtime collaborators, replaced in tests
type dependencies struct {
	openRegistry func(ctx context.Context, cfg config.DatabaseConfig) (registry.Source, error)
	dialer       catalog.Dialer
	loadSecret   func(ctx context.Context, cfg *config.Config) error
	now          func() time.Time
	out          io.Writer
}

func defaultDependencies(cfg *config.Config) dependencies {
	return dependencies{
		openRegistry: func(ctx context.Context, dbCfg config.DatabaseConfig) (registry.Source, error) {
			return registry.NewSQLSource(ctx, dbCfg)
		},
		dialer:     catalog.ONTAPDialer(cfg.Array),
		loadSecret: loadCredentialsSecret,
		now:        time.Now,
		out:        os.Stdout,
	}
}

// NewReconcileCmd creates the reconcile command
func NewReconcileCmd() *cobra.Command {
	return newReconcileCmd(func(ctx context.Context, cfg *config.Config) error {
		return runReconcile(ctx, cfg, defaultDependencies(cfg))
	})
}

func newReconcileCmd(run func(ctx context.Context, cfg *config.Config) error) *cobra.Command {
	// flagCfg receives raw flag values; only flags the user set are copied
	// onto the resolved configuration.
	flagCfg := config.DefaultConfig()
	opts := &reconcileOptions{}
	var cfg *config.Config

	cmd := &cobra.Command{
		Use:   "reconcile [cluster...]",
		Short: "Reconcile managed snapshots against the backup job history",
		Long: `Load successful backup job ids from the job history database, enumerate the
backup-managed snapshots (SP_<field>_<jobid>) on each cluster, and write one
<cluster>.snapdelete.sh script per cluster listing snapshots older than the
retention window whose job id is no longer in the history.

Nothing is deleted by this command.`,
		Aliases: []string{"run"},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveConfig(cmd.Flags(), flagCfg, opts, args)
			if err != nil {
				return err
			}
			cfg = resolved
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if isFirstRun {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s\n\n", app.FirstRunNotice)
			}
			return run(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "Path to config file (default: .snapspectre.yaml in cwd or home)")
	f.StringVar(&flagCfg.EnvFile, "env-file", flagCfg.EnvFile, "Path to .env file with credentials")

	// Job history flags
	f.StringVar(&flagCfg.Database.Driver, "db-driver", flagCfg.Database.Driver, "Job history driver (sqlserver, postgres, mysql, clickhouse)")
	f.StringVar(&flagCfg.Database.Host, "db-host", "", "Job history database host")
	f.IntVar(&flagCfg.Database.Port, "db-port", 0, "Job history database port (default: driver default)")
	f.StringVar(&flagCfg.Database.Instance, "db-instance", flagCfg.Database.Instance, "SQL Server instance name")
	f.StringVar(&flagCfg.Database.Database, "db-name", flagCfg.Database.Database, "Job history database name")
	f.StringVar(&flagCfg.Database.Username, "db-username", "", "Job history database username")
	f.StringVar(&flagCfg.Database.Password, "db-password", "", "Job history database password")
	f.StringVar(&flagCfg.Database.DSN, "db-dsn", "", "Full job history DSN (overrides host/port/credentials)")
	f.StringVar(&flagCfg.Database.Table, "db-table", "", "Job history table (default: driver default)")
	f.StringVar(&flagCfg.Database.Query, "db-query", "", "Custom query returning one job id column")
	f.IntSliceVar(&flagCfg.Database.Statuses, "db-status", flagCfg.Database.Statuses, "Job status codes counted as existing jobs")
	f.BoolVar(&flagCfg.Database.InsecureSkipVerify, "db-insecure", false, "Skip TLS verification for the job history database")
	f.StringVar(&opts.queryTimeoutStr, "query-timeout", "5m", "Job history query timeout (e.g., 5m, 1h)")

	// Storage flags
	f.StringSliceVar(&flagCfg.Array.Clusters, "clusters", nil, "Cluster short names (repeatable or comma-separated)")
	f.StringVar(&flagCfg.Array.Domain, "domain", "", "Domain suffix joined to cluster names")
	f.StringVar(&flagCfg.Array.Username, "array-username", "", "Storage API username")
	f.StringVar(&flagCfg.Array.Password, "array-password", "", "Storage API password")
	f.BoolVar(&flagCfg.Array.InsecureSkipVerify, "array-insecure", false, "Skip TLS verification for the storage API")
	f.StringVar(&opts.arrayTimeoutStr, "array-timeout", "30s", "Storage API request timeout")
	f.IntVar(&flagCfg.Array.RateLimit, "array-rate-limit", flagCfg.Array.RateLimit, "Storage API rate limit per cluster (requests/sec)")
	f.IntVar(&flagCfg.Array.PageSize, "page-size", flagCfg.Array.PageSize, "Storage API page size")

	// Credentials from Kubernetes
	f.StringVar(&flagCfg.CredentialsSecret, "credentials-secret", "", "Kubernetes Secret with credentials (namespace/name)")
	f.StringVar(&flagCfg.KubeConfig, "kubeconfig", "", "Path to kubeconfig (default: in-cluster, then ~/.kube/config)")

	// Reconciliation flags
	f.StringVar(&flagCfg.Timezone, "timezone", flagCfg.Timezone, "Zone for the retention cutoff and script timestamps")
	f.IntVar(&flagCfg.RetentionDays, "retention-days", flagCfg.RetentionDays, "Snapshots newer than this many days are always kept")
	f.StringVar(&flagCfg.MalformedPolicy, "malformed-policy", flagCfg.MalformedPolicy, "Malformed managed snapshot names: abort or skip")
	f.StringSliceVar(&flagCfg.ExcludeSVMs, "exclude-svm", nil, "SVM glob patterns to skip")
	f.StringSliceVar(&flagCfg.ExcludeVolumes, "exclude-volume", nil, "Volume glob patterns to skip (volume or svm:volume)")
	f.StringVar(&flagCfg.BaselinePath, "baseline", "", "Baseline file of reviewed snapshots never proposed again")
	f.BoolVar(&flagCfg.UpdateBaseline, "update-baseline", false, "Add this run's candidates to the baseline file")
	f.IntVar(&flagCfg.Concurrency, "concurrency", flagCfg.Concurrency, "Volumes enumerated in parallel per cluster")

	// Output flags
	f.StringVar(&flagCfg.SSHUser, "ssh-user", flagCfg.SSHUser, "SSH user in generated commands")
	f.StringVar(&flagCfg.OutputDir, "output", flagCfg.OutputDir, "Output directory for scripts and report")
	f.BoolVar(&flagCfg.DryRun, "dry-run", false, "Print scripts to stdout instead of writing files")
	f.BoolVar(&flagCfg.FailOnCandidates, "fail-on-candidates", false, "Exit with code 6 when deletion candidates are found")

	return cmd
}

// resolveConfig layers defaults, config file, environment and set flags, in
// that order, then validates the result.
func resolveConfig(flags *pflag.FlagSet, flagCfg *config.Config, opts *reconcileOptions, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	envFile := cfg.EnvFile
	if flags.Changed("env-file") {
		envFile = flagCfg.EnvFile
	}
	cfg.EnvFile = envFile
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	var (
		fileCfg *config.FileConfig
		path    string
		err     error
	)
	if strings.TrimSpace(opts.configPath) != "" {
		path = opts.configPath
		fileCfg, err = config.LoadFile(path)
	} else {
		fileCfg, path, err = config.AutoLoadFile()
	}
	if err != nil {
		return nil, err
	}
	if fileCfg != nil {
		if err := fileCfg.ApplyTo(cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		slog.Debug("config file loaded", slog.String("path", path))
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := applyChangedFlags(flags, flagCfg, cfg, opts); err != nil {
		return nil, err
	}
	if len(args) > 0 {
		cfg.Array.Clusters = args
	}
	cfg.Verbose = verbose

	cfg.Normalize()
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.MalformedPolicy = strings.ToLower(strings.TrimSpace(cfg.MalformedPolicy))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyChangedFlags(flags *pflag.FlagSet, src, dst *config.Config, opts *reconcileOptions) error {
	var parseErr error
	copiers := map[string]func(){
		"db-driver":          func() { dst.Database.Driver = src.Database.Driver },
		"db-host":            func() { dst.Database.Host = src.Database.Host },
		"db-port":            func() { dst.Database.Port = src.Database.Port },
		"db-instance":        func() { dst.Database.Instance = src.Database.Instance },
		"db-name":            func() { dst.Database.Database = src.Database.Database },
		"db-username":        func() { dst.Database.Username = src.Database.Username },
		"db-password":        func() { dst.Database.Password = src.Database.Password },
		"db-dsn":             func() { dst.Database.DSN = src.Database.DSN },
		"db-table":           func() { dst.Database.Table = src.Database.Table },
		"db-query":           func() { dst.Database.Query = src.Database.Query },
		"db-status":          func() { dst.Database.Statuses = src.Database.Statuses },
		"db-insecure":        func() { dst.Database.InsecureSkipVerify = src.Database.InsecureSkipVerify },
		"clusters":           func() { dst.Array.Clusters = src.Array.Clusters },
		"domain":             func() { dst.Array.Domain = src.Array.Domain },
		"array-username":     func() { dst.Array.Username = src.Array.Username },
		"array-password":     func() { dst.Array.Password = src.Array.Password },
		"array-insecure":     func() { dst.Array.InsecureSkipVerify = src.Array.InsecureSkipVerify },
		"array-rate-limit":   func() { dst.Array.RateLimit = src.Array.RateLimit },
		"page-size":          func() { dst.Array.PageSize = src.Array.PageSize },
		"credentials-secret": func() { dst.CredentialsSecret = src.CredentialsSecret },
		"kubeconfig":         func() { dst.KubeConfig = src.KubeConfig },
		"timezone":           func() { dst.Timezone = src.Timezone },
		"retention-days":     func() { dst.RetentionDays = src.RetentionDays },
		"malformed-policy":   func() { dst.MalformedPolicy = src.MalformedPolicy },
		"exclude-svm":        func() { dst.ExcludeSVMs = src.ExcludeSVMs },
		"exclude-volume":     func() { dst.ExcludeVolumes = src.ExcludeVolumes },
		"baseline":           func() { dst.BaselinePath = src.BaselinePath },
		"update-baseline":    func() { dst.UpdateBaseline = src.UpdateBaseline },
		"concurrency":        func() { dst.Concurrency = src.Concurrency },
		"ssh-user":           func() { dst.SSHUser = src.SSHUser },
		"output":             func() { dst.OutputDir = src.OutputDir },
		"dry-run":            func() { dst.DryRun = src.DryRun },
		"fail-on-candidates": func() { dst.FailOnCandidates = src.FailOnCandidates },
		"query-timeout": func() {
			d, err := config.ParseDuration(opts.queryTimeoutStr)
			if err != nil {
				parseErr = errors.Join(parseErr, fmt.Errorf("invalid --query-timeout duration: %w", err))
				return
			}
			dst.Database.QueryTimeout = d
		},
		"array-timeout": func() {
			d, err := config.ParseDuration(opts.arrayTimeoutStr)
			if err != nil {
				parseErr = errors.Join(parseErr, fmt.Errorf("invalid --array-timeout duration: %w", err))
				return
			}
			dst.Array.Timeout = d
		},
	}

	flags.Visit(func(flag *pflag.Flag) {
		if copyValue, ok := copiers[flag.Name]; ok {
			copyValue()
		}
	})
	return parseErr
}

// loadCredentialsSecret fills empty credentials from the configured Secret.
func loadCredentialsSecret(ctx context.Context, cfg *config.Config) error {
	if strings.TrimSpace(cfg.CredentialsSecret) == "" {
		return nil
	}

	client, err := k8s.NewClient(cfg.KubeConfig)
	if err != nil {
		return err
	}
	creds, err := client.LoadCredentials(ctx, cfg.CredentialsSecret)
	if err != nil {
		return err
	}
	filled := creds.ApplyTo(cfg)
	slog.Debug("credentials filled from secret", slog.Any("fields", filled))
	return nil
}

// runReconcile executes the reconciliation workflow
func runReconcile(ctx context.Context, cfg *config.Config, deps dependencies) error {
	startTime := deps.now()
	out := deps.out

	if err := deps.loadSecret(ctx, cfg); err != nil {
		return fmt.Errorf("failed to load credentials secret: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	cutoff := reconcile.Cutoff(startTime, loc, cfg.RetentionDays)

	rep, err := reporter.New(cfg)
	if err != nil {
		return err
	}

	// 1. Load the job registry; nothing is planned without it
	fmt.Fprintln(out, "🔌 Connecting to job history database...")
	src, err := deps.openRegistry(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open job history: %w", err)
	}
	defer src.Close()

	jobs, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load job history: %w", err)
	}
	fmt.Fprintf(out, "✓ Loaded %d job ids\n", jobs.Len())

	// 2. Reviewed snapshots
	reviewed, baselinePath, err := loadBaseline(cfg)
	if err != nil {
		return err
	}

	engine := reconcile.NewEngine(jobs, cutoff, cfg.MalformedPolicy, reviewed)
	cat := catalog.New(cfg, deps.dialer)

	// 3. Reconcile each cluster in isolation
	fmt.Fprintf(out, "🔍 Reconciling %d clusters (cutoff %s)...\n",
		len(cfg.Array.Clusters), cutoff.Format(reporter.TimeLayout))

	var failures []error
	results := make([]models.ClusterResult, 0, len(cfg.Array.Clusters))
	for _, cluster := range cfg.Array.Clusters {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := reconcileCluster(ctx, cfg, engine, cat, rep, cluster, out)
		if err != nil {
			slog.Error("cluster reconciliation failed",
				slog.String("cluster", cluster),
				slog.String("error", err.Error()),
			)
			result.Error = err.Error()
			failures = append(failures, err)

			// A script from an earlier run must not pass for this run's plan.
			if !cfg.DryRun {
				stale, retireErr := rep.RetireScript(cluster)
				switch {
				case retireErr != nil:
					failures = append(failures, retireErr)
				case stale != "":
					result.StaleScript = stale
					slog.Warn("previous script retired",
						slog.String("cluster", cluster),
						slog.String("path", stale),
					)
					fmt.Fprintf(out, "✗ %s: failed, previous script moved to %s\n", cluster, filepath.Base(stale))
				}
			}
		}
		results = append(results, result)
	}

	// 4. Report
	report := &models.Report{
		Tool:    "snapspectre",
		Version: version,
		Metadata: models.Metadata{
			GeneratedAt:   startTime,
			Cutoff:        cutoff,
			RetentionDays: cfg.RetentionDays,
			Timezone:      loc.String(),
			RegistrySize:  jobs.Len(),
			Duration:      deps.now().Sub(startTime).Round(time.Millisecond).String(),
			DryRun:        cfg.DryRun,
		},
		Clusters: results,
	}
	if err := rep.Generate(report, out); err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	if cfg.UpdateBaseline && !cfg.DryRun {
		reviewed.Add(baseline.Review(report, startTime)...)
		if err := baseline.Save(baselinePath, reviewed); err != nil {
			return fmt.Errorf("failed to update baseline: %w", err)
		}
		fmt.Fprintf(out, "✓ Baseline updated: %s (%d entries)\n", baselinePath, len(reviewed))
	}

	if len(failures) > 0 {
		return errors.Join(failures...)
	}

	if total := report.TotalCandidates(); cfg.FailOnCandidates && total > 0 {
		return &CandidatesError{Count: total}
	}

	if !cfg.DryRun {
		fmt.Fprintf(out, "\n📄 Review scripts:\n   snapspectre serve %s\n", cfg.OutputDir)
	}
	return nil
}

// reconcileCluster plans one cluster and writes its script. A failed cluster
// never gets a script.
func reconcileCluster(
	ctx context.Context,
	cfg *config.Config,
	engine *reconcile.Engine,
	cat *catalog.Catalog,
	rep reporter.Reporter,
	cluster string,
	out io.Writer,
) (models.ClusterResult, error) {
	result := models.ClusterResult{Cluster: cluster}
	host := cfg.ClusterFQDN(cluster)

	plan, err := engine.Reconcile(ctx, cluster, host, cat.Snapshots(ctx, cluster))
	if err != nil {
		return result, err
	}

	if cfg.DryRun {
		script, err := rep.RenderScript(plan)
		if err != nil {
			return result, err
		}
		fmt.Fprintf(out, "# %s\n%s", reporter.ScriptName(cluster), script)
	} else {
		path, err := rep.WriteScript(plan)
		if err != nil {
			return result, err
		}
		result.ScriptPath = path
	}

	result.Plan = plan
	fmt.Fprintf(out, "✓ %s: %d candidates, %d kept, %d ignored\n",
		cluster, plan.Tally.Delete, plan.Tally.Keep, plan.Tally.Ignore)
	return result, nil
}

func loadBaseline(cfg *config.Config) (baseline.Set, string, error) {
	path := strings.TrimSpace(cfg.BaselinePath)
	if path == "" {
		if !cfg.UpdateBaseline {
			return baseline.Set{}, "", nil
		}
		path = baseline.DefaultPath
	}

	set, err := baseline.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load baseline: %w", err)
	}
	slog.Debug("baseline loaded", slog.String("path", path), slog.Int("entries", len(set)))
	return set, path, nil
}
