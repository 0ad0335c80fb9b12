// Package nightly orchestrates the scheduled verification run: a full
// export-proof audit and an AI compose replay, executed concurrently with
// independent time budgets, written to a file report first and a database
// row second. The run itself must survive anything its sub-tasks do,
// including panics.
package nightly

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/beylesys/Kacheri-sub002/internal/notify"
	"github.com/beylesys/Kacheri-sub002/internal/store"
	"github.com/beylesys/Kacheri-sub002/internal/util"
	"github.com/beylesys/Kacheri-sub002/internal/verify"
)

// Run status values. Fail means something is provably wrong; partial means
// some artifacts could not be checked; pass means everything checked out.
const (
	StatusPass    = "pass"
	StatusPartial = "partial"
	StatusFail    = "fail"
)

// Sub-task exit codes, mirroring the CLI convention: 0 clean, 1 the check
// ran and found problems, 2 the check itself broke.
const (
	exitOK      = 0
	exitProblem = 1
	exitBroken  = 2
)

// TaskReport captures one sub-task's run.
type TaskReport struct {
	ExitCode int             `json:"exitCode"`
	Summary  json.RawMessage `json:"summary,omitempty"`
	Output   string          `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Report is the full run report persisted to disk and, best-effort, to the
// verification_reports table.
type Report struct {
	RunID         string     `json:"runId"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    time.Time  `json:"finishedAt"`
	Status        string     `json:"status"`
	Exports       TaskReport `json:"exports"`
	ComposeReplay TaskReport `json:"composeReplay"`
	ReportPath    string     `json:"reportPath,omitempty"`

	ExportsSummary verify.Summary       `json:"-"`
	ReplaySummary  verify.ReplaySummary `json:"-"`
}

type reportStore interface {
	InsertVerificationReport(ctx context.Context, rep store.VerificationReport) error
	PruneVerificationReports(ctx context.Context, olderThan time.Time) (int64, error)
}

// Orchestrator wires the verifier and replayer into one scheduled run.
type Orchestrator struct {
	verifier  *verify.Verifier
	replayer  *verify.Replayer
	store     reportStore
	notifiers []notify.Notifier

	reportsDir   string
	taskBudget   time.Duration
	reportMaxAge time.Duration
	triggeredBy  string
}

type Options struct {
	ReportsDir   string
	TaskBudget   time.Duration
	ReportMaxAge time.Duration
	TriggeredBy  string
	Notifiers    []notify.Notifier
}

func New(verifier *verify.Verifier, replayer *verify.Replayer, st reportStore, opts Options) *Orchestrator {
	if opts.TaskBudget <= 0 {
		opts.TaskBudget = 10 * time.Minute
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = "schedule"
	}
	return &Orchestrator{
		verifier:     verifier,
		replayer:     replayer,
		store:        st,
		notifiers:    opts.Notifiers,
		reportsDir:   opts.ReportsDir,
		taskBudget:   opts.TaskBudget,
		reportMaxAge: opts.ReportMaxAge,
		triggeredBy:  opts.TriggeredBy,
	}
}

// Run executes both sub-tasks concurrently, derives the run status, persists
// the report and, when notifyEnabled, notifies on anything other than a clean
// pass. The returned report is complete even when persistence fails; the
// error reflects the file write only, since that is the one record the run
// must not lose.
func (o *Orchestrator) Run(ctx context.Context, notifyEnabled bool) (Report, error) {
	rep := Report{
		RunID:     util.NewID("vr"),
		StartedAt: time.Now().UTC(),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rep.Exports, rep.ExportsSummary = o.runExports(ctx)
	}()
	go func() {
		defer wg.Done()
		rep.ComposeReplay, rep.ReplaySummary = o.runReplay(ctx)
	}()
	wg.Wait()

	rep.FinishedAt = time.Now().UTC()
	rep.Status = deriveStatus(rep)

	reportPath, err := o.writeFileReport(&rep)
	if err != nil {
		return rep, err
	}
	rep.ReportPath = reportPath

	o.persistRow(ctx, rep)
	o.prune(ctx)

	if notifyEnabled && rep.Status != StatusPass && len(o.notifiers) > 0 {
		notify.Fanout(ctx, o.notifiers, notify.Event{
			RunID:        rep.RunID,
			Status:       rep.Status,
			StartedAt:    rep.StartedAt.Format(time.RFC3339),
			ExportsPass:  rep.ExportsSummary.Pass,
			ExportsFail:  rep.ExportsSummary.Fail,
			ExportsMiss:  rep.ExportsSummary.Miss,
			ComposePass:  rep.ReplaySummary.Pass,
			ComposeDrift: rep.ReplaySummary.Drift,
			ComposeMiss:  rep.ReplaySummary.Miss,
			ReportPath:   reportPath,
		})
	}

	return rep, nil
}

func (o *Orchestrator) runExports(ctx context.Context) (task TaskReport, sum verify.Summary) {
	defer func() {
		if r := recover(); r != nil {
			task.ExitCode = exitBroken
			task.Error = fmt.Sprintf("panic: %v", r)
			log.Printf("nightly: exports sub-task panicked: %v\n%s", r, debug.Stack())
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, o.taskBudget)
	defer cancel()

	sum, _, err := o.verifier.Run(taskCtx, store.ProofFilter{Limit: -1})
	if err != nil {
		task.ExitCode = exitBroken
		task.Error = err.Error()
		return task, sum
	}
	task.Summary = mustJSON(sum)
	task.Output = fmt.Sprintf("%d checked: %d pass, %d fail, %d miss",
		sum.Total, sum.Pass, sum.Fail, sum.Miss)
	if sum.Fail > 0 {
		task.ExitCode = exitProblem
	}
	return task, sum
}

func (o *Orchestrator) runReplay(ctx context.Context) (task TaskReport, sum verify.ReplaySummary) {
	defer func() {
		if r := recover(); r != nil {
			task.ExitCode = exitBroken
			task.Error = fmt.Sprintf("panic: %v", r)
			log.Printf("nightly: compose replay sub-task panicked: %v\n%s", r, debug.Stack())
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, o.taskBudget)
	defer cancel()

	sum, _, err := o.replayer.Run(taskCtx, "", "")
	if err != nil {
		task.ExitCode = exitBroken
		task.Error = err.Error()
		return task, sum
	}
	task.Summary = mustJSON(sum)
	task.Output = fmt.Sprintf("%d replayed of %d: %d pass, %d drift, %d miss",
		sum.Rerun, sum.Total, sum.Pass, sum.Drift, sum.Miss)
	if sum.Drift > 0 {
		task.ExitCode = exitProblem
	}
	return task, sum
}

func deriveStatus(rep Report) string {
	if rep.Exports.ExitCode != exitOK || rep.ComposeReplay.ExitCode != exitOK {
		return StatusFail
	}
	if rep.ExportsSummary.Fail > 0 || rep.ReplaySummary.Drift > 0 {
		return StatusFail
	}
	if rep.ExportsSummary.Miss > 0 || rep.ReplaySummary.Miss > 0 {
		return StatusPartial
	}
	return StatusPass
}

func (o *Orchestrator) writeFileReport(rep *Report) (string, error) {
	if o.reportsDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(o.reportsDir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	encoded, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	name := fmt.Sprintf("%s-%s.json", rep.StartedAt.Format("20060102T150405Z"), rep.RunID)
	path := filepath.Join(o.reportsDir, name)
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return "", fmt.Errorf("write report file: %w", err)
	}
	return path, nil
}

// persistRow is best-effort: the file report already exists, so a down
// database downgrades to a log line.
func (o *Orchestrator) persistRow(ctx context.Context, rep Report) {
	if o.store == nil {
		return
	}
	encoded, err := json.Marshal(rep)
	if err != nil {
		log.Printf("nightly: encode report row: %v", err)
		return
	}
	err = o.store.InsertVerificationReport(ctx, store.VerificationReport{
		ID:           rep.RunID,
		CreatedAt:    rep.StartedAt,
		Status:       rep.Status,
		ExportsPass:  rep.ExportsSummary.Pass,
		ExportsFail:  rep.ExportsSummary.Fail,
		ExportsMiss:  rep.ExportsSummary.Miss,
		ComposePass:  rep.ReplaySummary.Pass,
		ComposeDrift: rep.ReplaySummary.Drift,
		ComposeMiss:  rep.ReplaySummary.Miss,
		Report:       encoded,
		TriggeredBy:  o.triggeredBy,
	})
	if err != nil {
		log.Printf("nightly: persist report row: %v", err)
	}
}

// prune applies the retention policy to both report stores.
func (o *Orchestrator) prune(ctx context.Context) {
	if o.reportMaxAge <= 0 {
		return
	}
	cutoff := time.Now().Add(-o.reportMaxAge)

	if o.store != nil {
		if n, err := o.store.PruneVerificationReports(ctx, cutoff); err != nil {
			log.Printf("nightly: prune report rows: %v", err)
		} else if n > 0 {
			log.Printf("nightly: pruned %d report rows", n)
		}
	}

	if o.reportsDir == "" {
		return
	}
	entries, err := os.ReadDir(o.reportsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("nightly: prune report files: %v", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(o.reportsDir, entry.Name())); err != nil {
			log.Printf("nightly: prune report file %s: %v", entry.Name(), err)
		}
	}
}

func mustJSON(v any) json.RawMessage {
	encoded, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return encoded
}
