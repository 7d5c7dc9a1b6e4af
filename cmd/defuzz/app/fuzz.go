package app

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/cfuzz/internal/config"
	"github.com/zjy-dev/cfuzz/internal/fuzz"
	"github.com/zjy-dev/cfuzz/internal/logger"
	"github.com/zjy-dev/cfuzz/internal/oracle"
	"github.com/zjy-dev/cfuzz/internal/report"
)

// NewFuzzCommand creates the "fuzz" subcommand. Its arguments are positional,
// not flags, per spec §6:
//
//	fuzz <fuzzed_prog> <result_dir> <minimize 0|1> <input_mode> <timeout_sec> <nb_known_bugs>
//	     [<schedule simple|boosted> <coverage_file> <greyness_pct> <concatenatedness_pct> [<seed_dir>]]
func NewFuzzCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fuzz <fuzzed_prog> <result_dir> <minimize 0|1> <input_mode> <timeout_sec> <nb_known_bugs> [<schedule simple|boosted> <coverage_file> <greyness_pct> <concatenatedness_pct> [<seed_dir>]]",
		Short: "Run the blackbox or greybox fuzzing loop against a target binary.",
		Long: `Run the fuzzer against a compiled C target.

Blackbox mode takes six positional arguments:
  defuzz fuzz ./target ./out 1 stdin 60 5

Greybox mode additionally takes a power schedule, the coverage file the
instrumented target emits, and greyness/concatenatedness percentages, plus
an optional seed directory to bootstrap the queue:
  defuzz fuzz ./target ./out 1 stdin 300 5 simple ./coverage.lcov 10 30 ./seeds

input_mode is either the literal "stdin" or a filesystem path; in the latter
case each trial writes its candidate bytes to that path before spawning.

configs/defuzz.yaml can set log_level, and a default schedule that is used
when the schedule argument is an empty string; every other value comes from
the command line.`,
		Args: cobra.MinimumNArgs(6),
		RunE: runFuzz,
	}
	return cmd
}

func runFuzz(cmd *cobra.Command, args []string) error {
	defaults, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := defaults.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	logger.Init(logLevel)

	cfg, err := parseFuzzArgs(args, defaults)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.ResultDir, 0755); err != nil {
		return fmt.Errorf("failed to create result directory %s: %w", cfg.ResultDir, err)
	}

	logger.Info("fuzzing %s, mode=%v, result_dir=%s, timeout=%s, nb_known_bugs=%d",
		cfg.Binary, cfg.Mode, cfg.ResultDir, cfg.Timeout, cfg.NBKnownBugs)

	engine := fuzz.NewEngine(cfg)

	statsPath := cfg.ResultDir + "/stats.json"
	resume := report.LoadResumeCounts(statsPath)
	if resume.NBRuns > 0 {
		logger.Info("previous run's stats.json: %d runs, %d failed, %d hanged",
			resume.NBRuns, resume.NBFailedRuns, resume.NBHangedRuns)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, stopping")
		engine.Stop()
	}()

	return engine.Run()
}

// parseFuzzArgs converts positional CLI arguments into a fuzz.Config. The only
// config-file default it applies is the schedule, used when the schedule
// argument is an empty string; nb_known_bugs always comes from args[5] (the
// command requires six arguments), and the greyness/concatenatedness defaults
// are not used.
func parseFuzzArgs(args []string, defaults config.Defaults) (fuzz.Config, error) {
	cfg := fuzz.Config{
		Binary:    args[0],
		ResultDir: args[1],
	}

	minimizeFlag, err := strconv.Atoi(args[2])
	if err != nil || (minimizeFlag != 0 && minimizeFlag != 1) {
		return cfg, fmt.Errorf("minimize must be 0 or 1, got %q", args[2])
	}
	cfg.Minimize = minimizeFlag == 1

	cfg.InputMode = args[3]

	timeoutSec, err := strconv.Atoi(args[4])
	if err != nil {
		return cfg, fmt.Errorf("invalid timeout_sec %q: %w", args[4], err)
	}
	cfg.Timeout = time.Duration(timeoutSec) * time.Second

	cfg.NBKnownBugs = defaults.NBKnownBugs
	if len(args) > 5 {
		n, err := strconv.Atoi(args[5])
		if err != nil {
			return cfg, fmt.Errorf("invalid nb_known_bugs %q: %w", args[5], err)
		}
		cfg.NBKnownBugs = n
	}

	if len(args) == 6 {
		cfg.Mode = oracle.Blackbox
		return cfg, nil
	}

	if len(args) < 10 {
		return cfg, fmt.Errorf("greybox mode requires <schedule> <coverage_file> <greyness_pct> <concatenatedness_pct>, got %d extra args", len(args)-6)
	}

	cfg.Mode = oracle.Greybox

	scheduleName := args[6]
	if scheduleName == "" {
		scheduleName = defaults.Schedule
	}
	switch scheduleName {
	case "simple", "":
		cfg.Schedule = fuzz.SimpleSchedule
	case "boosted":
		cfg.Schedule = fuzz.BoostedSchedule
	default:
		return cfg, fmt.Errorf("schedule must be simple or boosted, got %q", args[6])
	}

	cfg.CoverageFile = args[7]

	greyness, err := strconv.Atoi(args[8])
	if err != nil {
		return cfg, fmt.Errorf("invalid greyness_pct %q: %w", args[8], err)
	}
	cfg.GreynessPct = greyness

	concat, err := strconv.Atoi(args[9])
	if err != nil {
		return cfg, fmt.Errorf("invalid concatenatedness_pct %q: %w", args[9], err)
	}
	cfg.ConcatenatednessPct = concat

	if len(args) > 10 {
		cfg.SeedDir = args[10]
	}

	return cfg, nil
}
