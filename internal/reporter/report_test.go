package reporter

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/snapspectre/internal/models"
	"github.com/ppiankov/snapspectre/pkg/config"
)

func sampleReport() *models.Report {
	return &models.Report{
		Tool:    "snapspectre",
		Version: "1.2.3",
		Metadata: models.Metadata{
			GeneratedAt:   time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC),
			Cutoff:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			RetentionDays: 7,
			Timezone:      "US/Eastern",
			RegistrySize:  2,
			Duration:      "1.5s",
		},
		Clusters: []models.ClusterResult{
			{Cluster: "cl1", Plan: samplePlan(), ScriptPath: "/tmp/out/cl1.snapdelete.sh"},
			{Cluster: "cl2", Error: "array connection to cl2.example.com failed: refused"},
		},
	}
}

func TestWriteJSONOutputStructure(t *testing.T) {
	outDir := t.TempDir()

	path, err := WriteJSON(sampleReport(), outDir)
	if err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if filepath.Base(path) != ReportFile {
		t.Fatalf("unexpected report path %s", path)
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("failed to unmarshal report: %v", err)
	}
	for _, key := range []string{"tool", "version", "metadata", "clusters"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("expected key %q in report", key)
		}
	}

	var report models.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.TotalCandidates() != 2 || report.FailedClusters() != 1 {
		t.Fatalf("unexpected report contents: %+v", report)
	}
	if report.Clusters[0].Plan.Candidates[0].JobID != 300 {
		t.Fatalf("expected job id to survive, got %+v", report.Clusters[0].Plan.Candidates[0])
	}

	if _, err := WriteJSON(nil, outDir); err == nil {
		t.Fatal("expected nil report to fail")
	}
}

func TestWriteTextProducesReadableOutput(t *testing.T) {
	var out bytes.Buffer
	if err := WriteText(&out, sampleReport()); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"Snapshot Reconciliation",
		"Generated: 2024-03-08 12:00:00+00:00",
		"Cutoff: 2024-03-01 12:00:00+00:00 (7 days, US/Eastern)",
		"Retained jobs: 2",
		"cl1.snapdelete.sh",
		"FAILED: array connection to cl2.example.com failed: refused",
		"Deletion candidates: 2",
		"Failed clusters: 1",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
	if strings.Contains(text, "\x1b[") {
		t.Fatal("expected no ANSI styling when writing to a buffer")
	}
}

func TestWriteTextEdgeCases(t *testing.T) {
	if err := WriteText(&bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected nil report to fail")
	}
	if err := WriteText(nil, sampleReport()); err == nil {
		t.Fatal("expected nil writer to fail")
	}

	var out bytes.Buffer
	report := &models.Report{Metadata: models.Metadata{DryRun: true}}
	if err := WriteText(&out, report); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	if !strings.Contains(out.String(), "No clusters processed.") || !strings.Contains(out.String(), "Dry run") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestReporterGenerateRespectsDryRun(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.DryRun = true

	rep, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var out bytes.Buffer
	if err := rep.Generate(sampleReport(), &out); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, ReportFile)); !os.IsNotExist(err) {
		t.Fatalf("dry run must not write the JSON report, stat err=%v", err)
	}

	cfg.DryRun = false
	if err := rep.Generate(sampleReport(), &out); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, ReportFile)); err != nil {
		t.Fatalf("expected JSON report to be written: %v", err)
	}
}

func TestReporterWriteScriptUsesConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.SSHUser = "ops"

	rep, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	path, err := rep.WriteScript(samplePlan())
	if err != nil {
		t.Fatalf("WriteScript failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "ssh ops@cl1.example.com") || !strings.Contains(string(data), "-05:00") {
		t.Fatalf("expected configured user and zone in script:\n%s", data)
	}

	rendered, err := rep.RenderScript(samplePlan())
	if err != nil || !bytes.Equal(rendered, data) {
		t.Fatalf("RenderScript should match written script, err=%v", err)
	}

	cfg.Timezone = "Mars/Olympus"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected invalid timezone to fail")
	}
}
