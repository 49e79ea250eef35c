// Package logging writes the per-run artifact directory: the raw go test
// event stream of every unit, logs of failed units and the run summary.
package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-parallel/reporting"
	"github.com/ethereum-optimism/infra/op-parallel/types"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
	RawEventsFilename  = "raw_go_events.log"
	AllLogsFilename    = "all.log"
	SummaryFilename    = "summary.log"
	SummaryJSONName    = "summary.json"
	UnitsDirname       = "units"
	FailedDirname      = "failed"
)

// FileLogger writes the artifacts of one run under baseDir/testrun-<runID>
type FileLogger struct {
	runID     string
	logDir    string
	unitsDir  string
	failedDir string

	mu           sync.Mutex
	asyncWriters map[string]*AsyncFile
}

// NewFileLogger creates the run directory layout
func NewFileLogger(baseDir, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, errors.New("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, errors.New("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	l := &FileLogger{
		runID:        runID,
		logDir:       logDir,
		unitsDir:     filepath.Join(logDir, UnitsDirname),
		failedDir:    filepath.Join(logDir, FailedDirname),
		asyncWriters: make(map[string]*AsyncFile),
	}
	for _, dir := range []string{baseDir, l.logDir, l.unitsDir, l.failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return l, nil
}

// GetBaseDir returns the directory of this run
func (l *FileLogger) GetBaseDir() string {
	return l.logDir
}

// GetRunID returns the current runID
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}
	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

// RawOutput opens the raw event file of one unit. When it is closed its
// content is appended to the run-wide raw events log in one piece, so events
// of concurrent units never interleave.
func (l *FileLogger) RawOutput(unitID string) (io.WriteCloser, error) {
	path := filepath.Join(l.unitsDir, safeFilename(unitID)+".json")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create raw output file: %w", err)
	}
	return &rawUnitFile{File: f, logger: l}, nil
}

type rawUnitFile struct {
	*os.File
	logger *FileLogger
	once   sync.Once
	err    error
}

func (f *rawUnitFile) Close() error {
	f.once.Do(func() {
		if err := f.File.Close(); err != nil {
			f.err = err
			return
		}
		f.err = f.logger.appendRawEvents(f.Name())
	})
	return f.err
}

func (l *FileLogger) appendRawEvents(unitFile string) error {
	data, err := os.ReadFile(unitFile)
	if err != nil {
		return fmt.Errorf("failed to read raw output file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	writer, err := l.getAsyncWriter(filepath.Join(l.logDir, RawEventsFilename))
	if err != nil {
		return err
	}
	return writer.Write(data)
}

// LogUnitResult records one finished unit in all.log; failed units also get
// a dedicated log with their rendered errors and failures.
func (l *FileLogger) LogUnitResult(res types.UnitResult) error {
	writer, err := l.getAsyncWriter(filepath.Join(l.logDir, AllLogsFilename))
	if err != nil {
		return err
	}

	status := reporting.UnitStatus(res)
	line := fmt.Sprintf("%s %s %s tests=%d failures=%d errors=%d skipped=%d duration=%s\n",
		res.UnitID, status, time.Now().Format(time.RFC3339),
		res.TestsRun, len(res.Failures), len(res.Errors), res.Skipped, res.Duration)
	if err := writer.Write([]byte(line)); err != nil {
		return err
	}
	if !res.Failed() {
		return nil
	}

	var content strings.Builder
	fmt.Fprintf(&content, "UNIT: %s\nSTATUS: %s\n\n", res.UnitID, status)
	for _, e := range res.Errors {
		fmt.Fprintf(&content, "%s\n", e)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(&content, "%s\n", f)
	}
	if res.UnexpectedSuccesses > 0 {
		fmt.Fprintf(&content, "unexpected successes: %d\n", res.UnexpectedSuccesses)
	}
	path := filepath.Join(l.failedDir, safeFilename(res.UnitID)+".log")
	if err := os.WriteFile(path, []byte(content.String()), 0644); err != nil {
		return fmt.Errorf("failed to write failed unit log: %w", err)
	}
	return nil
}

// LogSummary writes the text summary and its JSON counterpart
func (l *FileLogger) LogSummary(text string, summary reporting.Summary) error {
	if err := os.WriteFile(filepath.Join(l.logDir, SummaryFilename), []byte(text), 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.logDir, SummaryJSONName), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// Complete closes all file writers
func (l *FileLogger) Complete() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, writer := range l.asyncWriters {
		errs = append(errs, writer.Close())
	}
	l.asyncWriters = make(map[string]*AsyncFile)
	return errors.Join(errs...)
}

// safeFilename converts a unit ID to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
	)
	return replacer.Replace(s)
}
