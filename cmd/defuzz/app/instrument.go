package app

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/zjy-dev/cfuzz/internal/instrument"
	"github.com/zjy-dev/cfuzz/internal/logger"
)

// NewInstrumentCommand creates the "instrument" subcommand: it rewrites one
// or more C source files so the recompiled binary self-reports line
// coverage to coverage.lcov on exit (spec §6).
func NewInstrumentCommand() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "instrument <out_dir> <file.c> [file.c...]",
		Short: "Instrument C sources to self-report LCOV coverage on exit.",
		Long: `Rewrites each given .c file, injecting a hit counter before every
statement reachable by straight-line control flow. Exactly one of the given
files must define main(); that file additionally receives the counter array
definitions and a _GenerateLcov() function, registered via atexit, that
writes coverage.lcov when the instrumented program exits.

Output files are named "<fileId>_instrumented_main.c" and written to
out_dir, where fileId is the file's position in the argument list.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir = args[0]
			return runInstrument(outDir, args[1:])
		},
	}
	return cmd
}

func runInstrument(outDir string, sources []string) error {
	logger.Init("info")

	set := instrument.NewSet()
	var errs error
	for _, src := range sources {
		if err := set.AddFile(src); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", src, err))
			continue
		}
		logger.Info("parsed %s", src)
	}
	if errs != nil {
		return errs
	}

	written, err := set.WriteDir(outDir)
	if err != nil {
		return err
	}
	for _, w := range written {
		logger.Info("wrote %s", filepath.Clean(w))
	}
	return nil
}
