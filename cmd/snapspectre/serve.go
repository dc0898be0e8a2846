package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/ppiankov/snapspectre/internal/models"
	"github.com/ppiankov/snapspectre/internal/reporter"
	"github.com/spf13/cobra"
)

// scriptEntry describes one cluster in the index. Failed clusters carry the
// error recorded in the last report and no script link.
type scriptEntry struct {
	Cluster  string    `json:"cluster"`
	Script   string    `json:"script,omitempty"`
	Commands int       `json:"commands"`
	Modified time.Time `json:"modified,omitzero"`
	URL      string    `json:"url,omitempty"`
	Failed   bool      `json:"failed,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type scriptIndex struct {
	Scripts []scriptEntry `json:"scripts"`
	Report  string        `json:"report,omitempty"`
}

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	var dir string
	var port int

	cmd := &cobra.Command{
		Use:   "serve [directory]",
		Short: "Serve generated deletion scripts for review",
		Long: `Start a read-only local HTTP server listing the generated deletion scripts
and the run report. Scripts are only displayed, never executed.
The index is available at http://localhost:PORT`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				dir = args[0]
			}

			return runServe(dir, port)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Directory holding scripts and report")
	cmd.Flags().IntVar(&port, "port", 8080, "Port to serve on")

	return cmd
}

// runServe starts the HTTP server
func runServe(dir string, port int) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return fmt.Errorf("directory not found: %s", dir)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	scripts, err := listScripts(dir)
	if err != nil {
		return err
	}
	if len(scripts) == 0 {
		return fmt.Errorf("no *%s scripts found in %s\nRun 'snapspectre reconcile' first to generate them", reporter.ScriptSuffix, dir)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newServeRouter(dir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := "http://localhost:" + strconv.Itoa(port)
	fmt.Fprintf(os.Stderr, "Serving %d scripts from %s at %s (Ctrl+C to stop)\n", len(scripts), dir, url)
	slog.Debug("script server started",
		slog.String("url", url),
		slog.String("dir", dir),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

// newServeRouter builds the read-only routes over dir
func newServeRouter(dir string) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		scripts, err := listScripts(dir)
		if err != nil {
			slog.Error("failed to list scripts", slog.String("error", err.Error()))
			http.Error(w, "failed to list scripts", http.StatusInternalServerError)
			return
		}

		index := scriptIndex{Scripts: flagFailedClusters(scripts, reportFailures(dir))}
		if _, err := os.Stat(filepath.Join(dir, reporter.ReportFile)); err == nil {
			index.Report = "/report"
		}
		writeJSON(w, index)
	}).Methods(http.MethodGet)

	router.HandleFunc("/scripts/{cluster:[A-Za-z0-9_.-]+}", func(w http.ResponseWriter, r *http.Request) {
		cluster := mux.Vars(r)["cluster"]
		if reason, failed := reportFailures(dir)[cluster]; failed {
			http.Error(w, fmt.Sprintf("cluster %s failed in the last run: %s", cluster, reason), http.StatusConflict)
			return
		}
		serveFile(w, r, filepath.Join(dir, reporter.ScriptName(cluster)), "text/plain; charset=utf-8")
	}).Methods(http.MethodGet)

	router.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		serveFile(w, r, filepath.Join(dir, reporter.ReportFile), "application/json")
	}).Methods(http.MethodGet)

	return router
}

func serveFile(w http.ResponseWriter, r *http.Request, path, contentType string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		slog.Error("failed to read file", slog.String("path", path), slog.String("error", err.Error()))
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// listScripts returns the deletion scripts in dir sorted by cluster
func listScripts(dir string) ([]scriptEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	scripts := []scriptEntry{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, reporter.ScriptSuffix) || strings.HasPrefix(name, ".") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}

		cluster := strings.TrimSuffix(name, reporter.ScriptSuffix)
		scripts = append(scripts, scriptEntry{
			Cluster:  cluster,
			Script:   name,
			Commands: countCommands(data),
			Modified: info.ModTime(),
			URL:      "/scripts/" + cluster,
		})
	}

	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].Cluster < scripts[j].Cluster
	})
	return scripts, nil
}

// reportFailures returns the clusters that failed in the run report, keyed by
// cluster. A missing or unreadable report yields nil.
func reportFailures(dir string) map[string]string {
	data, err := os.ReadFile(filepath.Join(dir, reporter.ReportFile))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read report", slog.String("error", err.Error()))
		}
		return nil
	}

	var report models.Report
	if err := json.Unmarshal(data, &report); err != nil {
		slog.Warn("failed to parse report", slog.String("error", err.Error()))
		return nil
	}

	failures := make(map[string]string)
	for _, result := range report.Clusters {
		if result.Error != "" {
			failures[result.Cluster] = result.Error
		}
	}
	return failures
}

// flagFailedClusters marks scripts of failed clusters and adds an entry for
// every failed cluster without a script.
func flagFailedClusters(scripts []scriptEntry, failures map[string]string) []scriptEntry {
	if len(failures) == 0 {
		return scripts
	}

	seen := make(map[string]bool, len(scripts))
	for i := range scripts {
		seen[scripts[i].Cluster] = true
		if reason, ok := failures[scripts[i].Cluster]; ok {
			scripts[i].Failed = true
			scripts[i].Error = reason
			scripts[i].URL = ""
		}
	}
	for cluster, reason := range failures {
		if !seen[cluster] {
			scripts = append(scripts, scriptEntry{Cluster: cluster, Failed: true, Error: reason})
		}
	}

	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].Cluster < scripts[j].Cluster
	})
	return scripts
}

// countCommands counts the delete commands in a script body
func countCommands(data []byte) int {
	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "ssh ") {
			count++
		}
	}
	return count
}
