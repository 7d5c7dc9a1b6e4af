package fuzz

import (
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zjy-dev/cfuzz/internal/logger"
	"github.com/zjy-dev/cfuzz/internal/oracle"
)

// statsTickInterval and statsFlushEvery implement spec §4.9/§5's "a
// background ticker wakes every second; every 10th tick persists the stats
// document" rule.
const (
	statsTickInterval = 1 * time.Second
	statsFlushEvery   = 10
)

// Run drives one full campaign: the worker loop (blackbox or greybox
// depending on cfg.Mode) alongside the stats ticker and deadline watcher
// auxiliary goroutines from spec §5, coordinated by an errgroup. When the
// worker loop returns, including with an error, it stops the engine so the
// auxiliary goroutines return too; Run then reports the worker's error. Run
// blocks until the campaign stops (via NB_KNOWN_BUGS, the deadline, or an
// external Stop()) and a final stats flush has completed.
func (e *Engine) Run() error {
	g := new(errgroup.Group)

	g.Go(func() error {
		defer e.Stop()
		if e.cfg.Mode == oracle.Greybox {
			return e.RunGreybox()
		}
		e.RunBlackbox()
		return nil
	})

	g.Go(e.runStatsTicker)
	g.Go(e.runDeadlineWatcher)

	err := g.Wait()
	if ferr := e.FlushStats(); ferr != nil {
		logger.Warn("final stats flush failed: %v", ferr)
	}
	return err
}

// runStatsTicker wakes every second and flushes the stats document every
// 10th tick until the engine stops; the final flush on stop is made by Run.
func (e *Engine) runStatsTicker() error {
	ticker := time.NewTicker(statsTickInterval)
	defer ticker.Stop()

	ticks := 0
	for e.KeepRunning() {
		<-ticker.C
		ticks++
		if ticks%statsFlushEvery == 0 {
			if err := e.FlushStats(); err != nil {
				logger.Warn("periodic stats flush failed: %v", err)
			}
		}
	}
	return nil
}

// runDeadlineWatcher flips keep_running once wall-clock elapsed reaches
// TIMEOUT-1s, per spec §5. A zero or negative deadline means "run until
// stopped externally" and disables the watcher.
func (e *Engine) runDeadlineWatcher() error {
	if e.Deadline() <= 0 {
		return nil
	}
	deadline := e.Deadline() - time.Second
	if deadline < 0 {
		deadline = 0
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for e.KeepRunning() {
		<-ticker.C
		if e.Elapsed() >= deadline {
			logger.Info("campaign deadline reached, stopping")
			e.Stop()
			return nil
		}
	}
	return nil
}
