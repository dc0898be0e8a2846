package reporter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ppiankov/snapspectre/internal/models"
)

// ReportFile is the JSON run report written next to the scripts.
const ReportFile = "snapspectre-report.json"

// WriteJSON writes the report to <dir>/snapspectre-report.json
func WriteJSON(report *models.Report, dir string) (string, error) {
	if report == nil {
		return "", fmt.Errorf("report is nil")
	}

	// Ensure output directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report to JSON: %w", err)
	}

	outputPath := filepath.Join(dir, ReportFile)
	if err := writeFileAtomic(outputPath, append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", ReportFile, err)
	}

	slog.Debug("report written", slog.String("path", outputPath))
	return outputPath, nil
}
