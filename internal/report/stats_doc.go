package report

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// ExecTimeStats is the spec's {average,median,min,max} execution-time block.
type ExecTimeStats struct {
	Average float64
	Median  float64
	Min     float64
	Max     float64
}

// MinimizationStats is the spec's minimization:{before,avg_steps,execution_time}.
type MinimizationStats struct {
	Before   int
	AvgSteps float64
	ExecTime ExecTimeStats
}

// StatsDocument is the spec's stats.json: fields common to blackbox and
// greybox plus greybox-only additions (NBQueuedSeed, Coverage, NBUniqueHash
// left nil for blackbox).
type StatsDocument struct {
	FuzzerName      string
	FuzzedProgram   string
	NBRuns          uint64
	NBFailedRuns    uint64
	NBHangedRuns    uint64
	ExecTime        ExecTimeStats
	NBUniqueFailures int
	Minimization    MinimizationStats

	NBQueuedSeed *int
	Coverage     *float64
	NBUniqueHash *int
}

// Marshal renders the stats document per spec §4.9.
func (d StatsDocument) Marshal() ([]byte, error) {
	doc := []byte(`{}`)
	var err error

	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		doc, err = sjson.SetBytes(doc, path, value)
	}

	set("fuzzer_name", d.FuzzerName)
	set("fuzzed_program", d.FuzzedProgram)
	set("nb_runs", d.NBRuns)
	set("nb_failed_runs", d.NBFailedRuns)
	set("nb_hanged_runs", d.NBHangedRuns)
	set("execution_time.average", d.ExecTime.Average)
	set("execution_time.median", d.ExecTime.Median)
	set("execution_time.min", d.ExecTime.Min)
	set("execution_time.max", d.ExecTime.Max)
	set("nb_unique_failures", d.NBUniqueFailures)
	set("minimization.before", d.Minimization.Before)
	set("minimization.avg_steps", d.Minimization.AvgSteps)
	set("minimization.execution_time.average", d.Minimization.ExecTime.Average)
	set("minimization.execution_time.median", d.Minimization.ExecTime.Median)
	set("minimization.execution_time.min", d.Minimization.ExecTime.Min)
	set("minimization.execution_time.max", d.Minimization.ExecTime.Max)

	if d.NBQueuedSeed != nil {
		set("nb_queued_seed", *d.NBQueuedSeed)
	}
	if d.Coverage != nil {
		set("coverage", *d.Coverage)
	}
	if d.NBUniqueHash != nil {
		set("nb_unique_hash", *d.NBUniqueHash)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to build stats document: %w", err)
	}
	return pretty.Pretty(doc), nil
}

// WriteStats persists doc to path, overwriting any previous contents, per
// spec §6: "stats.json — current aggregate statistics (overwritten)".
func WriteStats(path string, doc StatsDocument) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write stats document %s: %w", path, err)
	}
	return nil
}

// ResumeCounts holds the run counters recoverable from a prior stats.json.
// The fuzz CLI logs them; a new Engine's counters still start at zero.
type ResumeCounts struct {
	NBRuns       uint64
	NBFailedRuns uint64
	NBHangedRuns uint64
}

// LoadResumeCounts reads nb_runs/nb_failed_runs/nb_hanged_runs back out of
// an existing stats.json. A missing or unparsable file yields zero counts,
// never an error: resume is a convenience, not a correctness requirement.
func LoadResumeCounts(path string) ResumeCounts {
	data, err := os.ReadFile(path)
	if err != nil {
		return ResumeCounts{}
	}
	parsed := gjson.ParseBytes(data)
	return ResumeCounts{
		NBRuns:       parsed.Get("nb_runs").Uint(),
		NBFailedRuns: parsed.Get("nb_failed_runs").Uint(),
		NBHangedRuns: parsed.Get("nb_hanged_runs").Uint(),
	}
}
