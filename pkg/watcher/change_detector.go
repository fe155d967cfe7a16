package watcher

import (
	"context"
	"os"
	"time"

	"github.com/ritzau/kg-explorer/pkg/logging"
)

// ChangeAnalysis describes what changed and whether the dataset must be
// re-imported
type ChangeAnalysis struct {
	NeedReimport bool
	Missing      []string // Changed files that no longer exist
	ChangedFiles []string
}

// AnalyzeChanges decides how to react to a debounced change. The file
// system is checked again because a batch may hold both a remove and a
// later write of the same file.
func AnalyzeChanges(event ChangeEvent) *ChangeAnalysis {
	analysis := &ChangeAnalysis{
		ChangedFiles: event.Paths,
	}

	for _, p := range event.Paths {
		if _, err := os.Stat(p); err != nil {
			analysis.Missing = append(analysis.Missing, p)
		}
	}

	// A vanished dataset keeps the last imported data; it is picked up
	// again when written back
	analysis.NeedReimport = len(analysis.Missing) < len(event.Paths)
	return analysis
}

// Watch runs a watcher and debouncer over files and calls reload for every
// change that needs a re-import, until ctx is done
func Watch(ctx context.Context, quietPeriod, maxWait time.Duration, reload func(*ChangeAnalysis) error, files ...string) error {
	fw, err := NewFileWatcher(files...)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}
	defer fw.Stop()

	d := NewDebouncer(fw.Events(), quietPeriod, maxWait)
	d.Start(ctx)

	for event := range d.Output() {
		analysis := AnalyzeChanges(event)
		if len(analysis.Missing) > 0 {
			logging.Warn("dataset file missing, keeping last import", "paths", analysis.Missing)
		}
		if !analysis.NeedReimport {
			continue
		}
		logging.Info("dataset changed, reloading", "change", event.Type.String(), "paths", analysis.ChangedFiles)
		if err := reload(analysis); err != nil {
			logging.Error("dataset reload failed", "error", err)
		}
	}
	return ctx.Err()
}
