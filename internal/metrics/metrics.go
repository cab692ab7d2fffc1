// Package metrics implements the Metrics Recorder (C8): a per-run
// append-only JSON-lines journal plus a single rolling CSV index
// shared across every run in the same directory, and an end-of-run
// human-readable summary line.
package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/broneotodak/ctk-orchestrator/internal/errs"
)

// DefaultDir is where the journal and index live when CTK_METRICS_DIR
// is unset.
const DefaultDir = "./.ctk/metrics"

// Record is a single step's recorded outcome.
type Record struct {
	RunID      string    `json:"run_id"`
	Project    string    `json:"project"`
	Phase      string    `json:"phase,omitempty"`
	Role       string    `json:"role"`
	Accepted   bool      `json:"accepted"`
	ExitCode   int       `json:"exit_code"`
	Timeout    bool      `json:"timeout"`
	Retries    int       `json:"retries"`
	ToolCalls  int       `json:"tool_calls,omitempty"`
	TokensIn   int       `json:"tokens_in,omitempty"`
	TokensOut  int       `json:"tokens_out,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Recorder serializes concurrent appends from parallel phase workers
// into one journal file per run and one CSV index file shared across
// every run in dir, and accumulates the running Summary used for the
// end-of-run line.
type Recorder struct {
	mu         sync.Mutex
	journal    *os.File
	index      *os.File
	csvWriter  *csv.Writer
	headerDone bool
	summary    Summary
}

// indexFileName is the single rolling CSV index shared by every run
// recorded into the same directory, per SPEC_FULL.md §4.8: one
// durable index an operator can tail across runs, as opposed to the
// per-run JSON-lines journal.
const indexFileName = "index.csv"

// Open creates (or appends to) runID's journal under dir, plus dir's
// shared rolling CSV index. dir defaults to DefaultDir when empty.
func Open(dir, runID string) (*Recorder, error) {
	const op = "metrics.Open"
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(op, errs.KindConfigError, err)
	}

	journalPath := filepath.Join(dir, runID+".jsonl")
	journal, err := os.OpenFile(journalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.New(op, errs.KindConfigError, err)
	}

	indexPath := filepath.Join(dir, indexFileName)
	info, statErr := os.Stat(indexPath)
	hasHeader := statErr == nil && info.Size() > 0
	index, err := os.OpenFile(indexPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		journal.Close()
		return nil, errs.New(op, errs.KindConfigError, err)
	}

	r := &Recorder{
		journal:    journal,
		index:      index,
		csvWriter:  csv.NewWriter(index),
		headerDone: hasHeader,
	}
	if !r.headerDone {
		r.csvWriter.Write([]string{"timestamp", "run_id", "project", "phase", "role", "accepted", "exit_code", "timeout", "retries", "tokens_in", "tokens_out", "duration_ms"})
		r.csvWriter.Flush()
		r.headerDone = true
	}
	return r, nil
}

// Record appends rec to both the journal and the index. Safe for
// concurrent use by multiple parallel-phase workers.
func (r *Recorder) Record(rec Record) error {
	const op = "metrics.Record"
	r.mu.Lock()
	defer r.mu.Unlock()

	line, err := json.Marshal(rec)
	if err != nil {
		return errs.New(op, errs.KindConfigError, err)
	}
	if _, err := r.journal.Write(append(line, '\n')); err != nil {
		return errs.New(op, errs.KindConfigError, err)
	}

	row := []string{
		rec.Timestamp.Format(time.RFC3339),
		rec.RunID,
		rec.Project,
		rec.Phase,
		rec.Role,
		strconv.FormatBool(rec.Accepted),
		strconv.Itoa(rec.ExitCode),
		strconv.FormatBool(rec.Timeout),
		strconv.Itoa(rec.Retries),
		strconv.Itoa(rec.TokensIn),
		strconv.Itoa(rec.TokensOut),
		strconv.FormatInt(rec.DurationMS, 10),
	}
	if err := r.csvWriter.Write(row); err != nil {
		return errs.New(op, errs.KindConfigError, err)
	}
	r.csvWriter.Flush()
	r.summary.Add(rec)
	return nil
}

// Summary returns a copy of the running summary over every Record
// written through this Recorder so far.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

// Close flushes and releases the underlying files.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.csvWriter.Flush()
	jerr := r.journal.Close()
	ierr := r.index.Close()
	if jerr != nil {
		return jerr
	}
	return ierr
}

// Summary is an end-of-run aggregate over every Record written this
// session, independent of what's already on disk from prior runs.
type Summary struct {
	Steps     int
	Accepted  int
	Rejected  int
	Timeouts  int
	ToolCalls int
	TokensIn  int
	TokensOut int
}

// Add folds rec into the running summary.
func (s *Summary) Add(rec Record) {
	s.Steps++
	if rec.Accepted {
		s.Accepted++
	} else {
		s.Rejected++
	}
	if rec.Timeout {
		s.Timeouts++
	}
	s.ToolCalls += rec.ToolCalls
	s.TokensIn += rec.TokensIn
	s.TokensOut += rec.TokensOut
}

// Line renders the human-readable end-of-run summary: agents executed,
// cumulative tool calls, cumulative tokens, and wall time.
func (s Summary) Line(wall time.Duration) string {
	return fmt.Sprintf("agents=%d tool_calls=%d tokens_in=%d tokens_out=%d accepted=%d rejected=%d timeouts=%d wall=%s",
		s.Steps, s.ToolCalls, s.TokensIn, s.TokensOut, s.Accepted, s.Rejected, s.Timeouts, wall.Round(time.Millisecond))
}
