// Package minimize implements the delta-debugging minimizer (C7): it
// shrinks a failure-inducing input while preserving the classified failure
// that made it interesting in the first place.
package minimize

import (
	"time"

	"github.com/zjy-dev/cfuzz/internal/oracle"
	"github.com/zjy-dev/cfuzz/internal/runner"
)

// Replay executes candidate through the runner and returns the result.
type Replay func(candidate []byte) (runner.Result, error)

// OnNewFinding is invoked when a replay during minimization triggers a
// *different* classified failure than the one being minimized; the minimizer
// never swallows these, it hands them to the fuzzer's normal report
// pipeline (spec §4.8's "minimization can discover new bugs").
type OnNewFinding func(candidate []byte, found oracle.Error)

// Result carries the minimized input plus the bookkeeping the reporter
// needs for CrashReport.minimization.
type Result struct {
	Input    []byte
	Steps    int
	Elapsed  time.Duration
}

// Minimize shrinks input while preserving the same classified failure
// (target, detected via detector.IsSame). It never reports an error upward:
// if it cannot shrink further it returns the current input unchanged.
func Minimize(input []byte, target oracle.Error, detector *oracle.Detector, replay Replay, onNewFinding OnNewFinding) (Result, error) {
	start := time.Now()
	steps := 0

	current := append([]byte(nil), input...)

	for {
		if len(current) == 0 {
			// Never expected to happen (callers only minimize non-empty
			// failure-inducing inputs), but guarded per spec §7.
			return Result{Input: input, Steps: steps, Elapsed: time.Since(start)}, nil
		}

		divisor := 2
		shrunk := false

		for {
			step := len(current) / divisor
			if step == 0 {
				break
			}

			if candidate, ok, err := tryPhaseA(current, step, target, detector, replay, onNewFinding, &steps); err != nil {
				return Result{}, err
			} else if ok {
				current = candidate
				shrunk = true
				break
			}

			if candidate, ok, err := tryPhaseB(current, step, target, detector, replay, onNewFinding, &steps); err != nil {
				return Result{}, err
			} else if ok {
				current = candidate
				shrunk = true
				break
			}

			divisor++
		}

		if !shrunk {
			break
		}
	}

	return Result{Input: current, Steps: steps, Elapsed: time.Since(start)}, nil
}

func tryPhaseA(input []byte, step int, target oracle.Error, detector *oracle.Detector, replay Replay, onNewFinding OnNewFinding, steps *int) ([]byte, bool, error) {
	for i := 0; i < len(input); i += step {
		end := i + step
		if end > len(input) {
			end = len(input)
		}
		candidate := input[i:end]
		*steps++

		res, err := replay(candidate)
		if err != nil {
			return nil, false, err
		}

		if detector.IsSame(target, res) {
			return append([]byte(nil), candidate...), true, nil
		}
		reportIfDifferentFinding(candidate, res, target, detector, onNewFinding)
	}
	return nil, false, nil
}

func tryPhaseB(input []byte, step int, target oracle.Error, detector *oracle.Detector, replay Replay, onNewFinding OnNewFinding, steps *int) ([]byte, bool, error) {
	for i := 0; i < len(input); i += step {
		end := i + step
		if end > len(input) {
			end = len(input)
		}
		candidate := make([]byte, 0, len(input)-(end-i))
		candidate = append(candidate, input[:i]...)
		candidate = append(candidate, input[end:]...)
		if len(candidate) == 0 {
			continue
		}
		*steps++

		res, err := replay(candidate)
		if err != nil {
			return nil, false, err
		}

		if detector.IsSame(target, res) {
			return candidate, true, nil
		}
		reportIfDifferentFinding(candidate, res, target, detector, onNewFinding)
	}
	return nil, false, nil
}

func reportIfDifferentFinding(candidate []byte, res runner.Result, target oracle.Error, detector *oracle.Detector, onNewFinding OnNewFinding) {
	if onNewFinding == nil {
		return
	}
	found, ok := detector.Detect(res)
	if !ok || found.Equals(target) {
		return
	}
	onNewFinding(append([]byte(nil), candidate...), found)
}
