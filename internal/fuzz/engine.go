// Package fuzz implements the fuzz loop (C8): it is the only component that
// wires the child runner, oracle set, mutators, generators, seed queue,
// coverage parser, minimizer, and reporter into one running campaign,
// grounded on the predecessor fuzzer's fuzzer/fuzzer_blackbox/fuzzer_greybox
// hierarchy collapsed into a single Engine with two entry points.
package fuzz

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/atomic"

	"github.com/zjy-dev/cfuzz/internal/coverage"
	"github.com/zjy-dev/cfuzz/internal/generate"
	"github.com/zjy-dev/cfuzz/internal/logger"
	"github.com/zjy-dev/cfuzz/internal/minimize"
	"github.com/zjy-dev/cfuzz/internal/mutate"
	"github.com/zjy-dev/cfuzz/internal/oracle"
	"github.com/zjy-dev/cfuzz/internal/queue"
	"github.com/zjy-dev/cfuzz/internal/report"
	"github.com/zjy-dev/cfuzz/internal/runner"
	"github.com/zjy-dev/cfuzz/internal/stats"
)

// childTimeout bounds every individual target execution. The predecessor
// tool hardcodes this at 5s regardless of the campaign's overall duration
// (fuzzer.h's `constexpr std::chrono::milliseconds timeout =
// std::chrono::seconds(5)`); Config.Timeout below is the *campaign* deadline
// from the CLI's <timeout_sec>, a different quantity entirely.
const childTimeout = 5 * time.Second

// Schedule selects which power schedule backs the greybox seed queue.
type Schedule int

const (
	SimpleSchedule Schedule = iota
	BoostedSchedule
)

// Config is every knob the fuzz CLI's positional arguments resolve to.
type Config struct {
	Binary      string
	ResultDir   string
	Minimize    bool
	InputMode   string // "stdin" or a filesystem path
	Timeout     time.Duration
	NBKnownBugs int
	Mode        oracle.Mode

	// Greybox-only.
	Schedule            Schedule
	CoverageFile        string
	GreynessPct         int
	ConcatenatednessPct int
	SeedDir             string
}

// Engine runs one fuzzing campaign end to end.
type Engine struct {
	cfg      Config
	detector *oracle.Detector
	dedup    *oracle.Dedup
	registry *coverage.Registry
	simple   *queue.SimpleSchedule
	boosted  *queue.BoostedSchedule
	writer   *report.Writer

	execStats *stats.Memory
	minStats  *stats.Memory

	keepRunning  atomic.Bool
	nbRuns       atomic.Uint64
	nbFailedRuns atomic.Uint64
	nbHangedRuns atomic.Uint64
	nbBeforeMin  atomic.Int64
	bestCoverage atomic.Float64

	start time.Time
}

// NewEngine builds an Engine ready to run cfg's campaign. Its run counters
// always start at zero; the fuzz CLI reads a previous stats.json with
// report.LoadResumeCounts only to log those counts.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		cfg:       cfg,
		detector:  oracle.NewDetector(cfg.Mode),
		dedup:     oracle.NewDedup(),
		registry:  coverage.NewRegistry(),
		writer:    report.NewWriter(cfg.ResultDir),
		execStats: stats.NewMemory(),
		minStats:  stats.NewMemory(),
		start:     time.Now(),
	}
	e.keepRunning.Store(true)
	if cfg.Mode == oracle.Greybox {
		if cfg.Schedule == BoostedSchedule {
			e.boosted = queue.NewBoostedSchedule(e.registry)
		} else {
			e.simple = queue.NewSimpleSchedule()
		}
	}
	return e
}

// Stop causes every loop (fuzz loop, background ticker, deadline watcher) to
// return at its next check, per spec §5's cancellation contract. Safe to
// call from a signal handler.
func (e *Engine) Stop() {
	e.keepRunning.Store(false)
}

func (e *Engine) makeInput() runner.Input {
	if e.cfg.InputMode == "stdin" {
		return runner.StdinInput{BinaryPath: e.cfg.Binary, TimeoutDur: childTimeout}
	}
	return runner.FileInput{BinaryPath: e.cfg.Binary, TimeoutDur: childTimeout, Path: e.cfg.InputMode}
}

// RunBlackbox drives the blackbox loop: synthesize a random input, run it,
// handle the result, repeat until stopped.
func (e *Engine) RunBlackbox() {
	for e.keepRunning.Load() {
		e.runAndHandle(generate.RandomInput())
	}
}

// RunGreybox drives the greybox loop: baseline run, seed-directory bootstrap,
// then the probability-branching main loop, per spec §4.8.
func (e *Engine) RunGreybox() error {
	e.runBaseline()

	if err := e.bootstrapSeeds(); err != nil {
		return err
	}

	for e.keepRunning.Load() {
		if rand.Float64() < float64(e.cfg.GreynessPct)/100 {
			e.runAndHandle(generate.RandomInput())
			continue
		}
		e.runFromQueue()
	}
	return nil
}

// runBaseline executes the target once on empty input to establish the
// initial best_coverage, per spec §4.8 step 1.
func (e *Engine) runBaseline() {
	res, err := runner.Run(e.makeInput(), nil, runner.Options{})
	if err != nil {
		logger.Warn("baseline run failed: %v", err)
		return
	}
	ratio, path, perr := e.readCoverage()
	if perr != nil {
		logger.Warn("baseline coverage unavailable: %v", perr)
		_ = res
		return
	}
	e.registry.Upsert(path)
	e.bestCoverage.Store(ratio)
}

// bootstrapSeeds loads every file in the seed directory, runs it, registers
// its path, and enqueues it unconditionally, per spec §4.8 step 2.
func (e *Engine) bootstrapSeeds() error {
	if e.cfg.SeedDir == "" {
		return nil
	}
	entries, err := os.ReadDir(e.cfg.SeedDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(e.cfg.SeedDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("failed to load seed file %s: %v", path, err)
			continue
		}

		input := e.makeInput()
		res, err := runner.Run(input, data, runner.Options{})
		if err != nil {
			logger.Warn("failed to run seed file %s: %v", path, err)
			continue
		}
		e.nbRuns.Add(1)
		e.execStats.Record(res.Elapsed.Seconds())

		ratio, cpath, perr := e.readCoverage()
		pathIdx := -1
		if perr == nil {
			pathIdx, _ = e.registry.Upsert(cpath)
			if ratio > e.bestCoverage.Load() {
				e.bestCoverage.Store(ratio)
			}
		}
		seed := queue.NewSeed(append([]byte(nil), data...), pathIdx, res.Elapsed)
		if err := e.addSeed(seed); err != nil {
			logger.Warn("failed to enqueue seed file %s: %v", path, err)
		}
	}
	return nil
}

// runFromQueue borrows one seed, derives a child input from it, executes the
// child, then releases the parent with its updated counters and (if the
// child's path is new or improving) enqueues the child, per spec §4.8 step 3.
func (e *Engine) runFromQueue() {
	parent, release, err := e.selectSeed()
	if err != nil {
		// Queue is empty (e.g. coverage never produced a registrable path);
		// fall back to a fresh random trial rather than stalling.
		e.runAndHandle(generate.RandomInput())
		return
	}
	parent.NSelected++

	child := e.deriveChild(parent)

	res, newSeed, newPath, found := e.execute(child)
	if newPath {
		parent.NImproved++
	}
	release(parent)
	if newSeed != nil {
		if err := e.addSeed(*newSeed); err != nil {
			logger.Warn("failed to enqueue new seed: %v", err)
		}
	}
	e.handleOutcome(child, res, found)
}

// deriveChild forms a child input from a borrowed parent seed, per spec
// §4.8 step 3's mutation/concatenation branch.
func (e *Engine) deriveChild(parent queue.Seed) []byte {
	if rand.Float64() < float64(e.cfg.ConcatenatednessPct)/100 {
		return e.concatenate(parent.Input)
	}
	return mutate.RandomNumberOfRandomMutants(append([]byte(nil), parent.Input...))
}

// concatenate appends 1+Exp(0.5) randomly chosen items — a newline, a
// digit, a random ASCII byte, or another queue entry's input — to parent.
func (e *Engine) concatenate(parent []byte) []byte {
	out := append([]byte(nil), parent...)
	n := mutate.ExpLen(0.5)
	for i := 0; i < n; i++ {
		switch rand.IntN(4) {
		case 0:
			out = append(out, '\n')
		case 1:
			out = append(out, byte('0'+rand.IntN(10)))
		case 2:
			out = append(out, byte(32+rand.IntN(127-32)))
		default:
			snapshot := e.snapshotSeeds()
			if len(snapshot) == 0 {
				out = append(out, '\n')
				continue
			}
			other := snapshot[rand.IntN(len(snapshot))]
			out = mutate.Concat(out, other.Input)
		}
	}
	return out
}

// runAndHandle is the blackbox entry point and the greybox "synthesize a
// fresh random input" branch: execute candidate with no parent seed involved.
func (e *Engine) runAndHandle(candidate []byte) {
	_, newSeed, _, found := e.execute(candidate)
	if newSeed != nil {
		if err := e.addSeed(*newSeed); err != nil {
			logger.Warn("failed to enqueue new seed: %v", err)
		}
	}
	e.handleOutcome(candidate, nil, found)
}

// execute runs candidate through C1, updates run counters and execution-time
// statistics, classifies the result via C2, and (in greybox mode) updates
// coverage. It returns the raw result (nil if the run itself failed to
// spawn), the seed to enqueue if this trial discovered or improved a path,
// whether that path is new/improving, and the detected finding (nil on a
// clean run).
func (e *Engine) execute(candidate []byte) (*runner.Result, *queue.Seed, bool, oracle.Error) {
	res, err := runner.Run(e.makeInput(), candidate, runner.Options{})
	if err != nil {
		logger.Warn("execution failed: %v", err)
		return nil, nil, false, nil
	}
	e.nbRuns.Add(1)
	e.execStats.Record(res.Elapsed.Seconds())
	if res.TimedOut {
		e.nbHangedRuns.Add(1)
	}

	found, ok := e.detector.Detect(res)
	if ok && found.Folder() == "crashes" {
		e.nbFailedRuns.Add(1)
	}
	if !ok {
		found = nil
	}

	var newSeed *queue.Seed
	var newPath bool
	if e.cfg.Mode == oracle.Greybox {
		newSeed, newPath = e.updateCoverage(candidate, res.Elapsed)
	}

	return &res, newSeed, newPath, found
}

// handleOutcome records a finding (if any) via recordFinding and stops the
// engine once NB_KNOWN_BUGS unique findings have been seen.
func (e *Engine) handleOutcome(candidate []byte, res *runner.Result, found oracle.Error) {
	if found == nil {
		return
	}
	execTime := time.Duration(0)
	if res != nil {
		execTime = res.Elapsed
	}
	if e.recordFinding(candidate, found, execTime) {
		logger.Info("reached %d known bugs, stopping", e.cfg.NBKnownBugs)
		e.Stop()
	}
}

// recordFinding dedups found, persists a CrashReport (minimizing first if
// configured), and reports whether the unique-error count has reached
// NB_KNOWN_BUGS.
func (e *Engine) recordFinding(candidate []byte, found oracle.Error, execTime time.Duration) bool {
	id, isNew := e.dedup.Append(found)
	if !isNew {
		return e.dedup.Len() >= e.cfg.NBKnownBugs
	}
	e.nbBeforeMin.Add(1)
	logger.Info("new finding #%d: %s", id, found.Name())

	cr := report.CrashReport{
		Input:           candidate,
		Oracle:          found,
		ExecTimeSeconds: execTime.Seconds(),
	}
	if e.cfg.Mode == oracle.Greybox {
		cov := e.bestCoverage.Load()
		cr.CoveragePercent = &cov
	}

	if e.cfg.Minimize {
		e.minimizeFinding(&cr, found)
	}

	if err := e.writer.Save(id, cr); err != nil {
		logger.Warn("failed to persist report for finding #%d: %v", id, err)
	}

	return e.dedup.Len() >= e.cfg.NBKnownBugs
}

// minimizeFinding runs C7 against cr's finding and records its steps/time
// into cr.Minimization, replacing cr.Input with the shrunk candidate.
func (e *Engine) minimizeFinding(cr *report.CrashReport, found oracle.Error) {
	replay := func(c []byte) (runner.Result, error) {
		return runner.Run(e.makeInput(), c, runner.Options{})
	}
	onNewFinding := func(c []byte, f oracle.Error) {
		e.recordFinding(c, f, 0)
	}

	unminimizedSize := len(cr.Input)
	start := time.Now()
	result, err := minimize.Minimize(cr.Input, found, e.detector, replay, onNewFinding)
	elapsed := time.Since(start)
	if err != nil {
		logger.Warn("minimization failed: %v", err)
		return
	}

	e.minStats.Record(elapsed.Seconds())
	cr.Input = result.Input
	cr.Minimization = &report.Minimization{
		UnminimizedSize: unminimizedSize,
		NBSteps:         result.Steps,
		ExecTimeSeconds: elapsed.Seconds(),
	}
}

// readCoverage reads and deletes the coverage file, then parses it. The file
// is removed even when reading succeeds but parsing fails, matching spec
// §5's "coverage files are deleted immediately after being read" policy.
func (e *Engine) readCoverage() (float64, coverage.Path, error) {
	trace, err := os.ReadFile(e.cfg.CoverageFile)
	if err != nil {
		return 0, nil, err
	}
	os.Remove(e.cfg.CoverageFile)
	return coverage.Parse(trace)
}

// updateCoverage upserts the path produced by the most recent run into the
// registry and, if the path is new or improves on best_coverage, returns a
// seed anchored to it.
func (e *Engine) updateCoverage(candidate []byte, execTime time.Duration) (*queue.Seed, bool) {
	ratio, path, err := e.readCoverage()
	if err != nil {
		return nil, false
	}

	idx, isNew := e.registry.Upsert(path)

	improved := isNew
	if ratio > e.bestCoverage.Load() {
		e.bestCoverage.Store(ratio)
		improved = true
	}
	if !improved {
		return nil, false
	}

	seed := queue.NewSeed(append([]byte(nil), candidate...), idx, execTime)
	return &seed, true
}

func (e *Engine) addSeed(s queue.Seed) error {
	if e.boosted != nil {
		return e.boosted.Add(s)
	}
	return e.simple.Add(s)
}

func (e *Engine) queueLen() int {
	if e.boosted != nil {
		return e.boosted.Len()
	}
	return e.simple.Len()
}

func (e *Engine) snapshotSeeds() []queue.Seed {
	if e.boosted != nil {
		return e.boosted.Snapshot()
	}
	return e.simple.Snapshot()
}

// selectSeed borrows a seed from whichever schedule backs this engine and
// returns a release closure that writes the caller's updated counters back.
func (e *Engine) selectSeed() (queue.Seed, func(queue.Seed), error) {
	if e.boosted != nil {
		idx, s, err := e.boosted.Select()
		if err != nil {
			return queue.Seed{}, nil, err
		}
		return s, func(updated queue.Seed) { e.boosted.Release(idx, updated) }, nil
	}
	s, err := e.simple.Select()
	if err != nil {
		return queue.Seed{}, nil, err
	}
	return s, func(updated queue.Seed) { e.simple.Release(updated) }, nil
}

// StatsDocument renders the engine's current aggregate statistics as a
// report.StatsDocument, filling in the greybox-only fields when applicable.
func (e *Engine) StatsDocument() report.StatsDocument {
	execSnap := e.execStats.Snapshot()
	minSnap := e.minStats.Snapshot()

	doc := report.StatsDocument{
		FuzzerName:    "defuzz",
		FuzzedProgram: e.cfg.Binary,
		NBRuns:        e.nbRuns.Load(),
		NBFailedRuns:  e.nbFailedRuns.Load(),
		NBHangedRuns:  e.nbHangedRuns.Load(),
		ExecTime: report.ExecTimeStats{
			Average: execSnap.Avg,
			Median:  execSnap.Median,
			Min:     execSnap.Min,
			Max:     execSnap.Max,
		},
		NBUniqueFailures: e.dedup.Len(),
		Minimization: report.MinimizationStats{
			Before:   int(e.nbBeforeMin.Load()),
			AvgSteps: 0,
			ExecTime: report.ExecTimeStats{
				Average: minSnap.Avg,
				Median:  minSnap.Median,
				Min:     minSnap.Min,
				Max:     minSnap.Max,
			},
		},
	}

	if e.cfg.Mode == oracle.Greybox {
		queued := e.queueLen()
		cov := e.bestCoverage.Load() * 100
		hashes := e.registry.Len()
		doc.NBQueuedSeed = &queued
		doc.Coverage = &cov
		doc.NBUniqueHash = &hashes
	}

	return doc
}

// FlushStats persists the current StatsDocument to <ResultDir>/stats.json.
func (e *Engine) FlushStats() error {
	path := filepath.Join(e.cfg.ResultDir, "stats.json")
	return report.WriteStats(path, e.StatsDocument())
}

// KeepRunning reports whether the engine's loops should keep iterating.
func (e *Engine) KeepRunning() bool {
	return e.keepRunning.Load()
}

// Elapsed returns the wall-clock time since the engine was created.
func (e *Engine) Elapsed() time.Duration {
	return time.Since(e.start)
}

// Deadline returns the configured campaign deadline.
func (e *Engine) Deadline() time.Duration {
	return e.cfg.Timeout
}
