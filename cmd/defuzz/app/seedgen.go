package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tidwall/match"

	"github.com/zjy-dev/cfuzz/internal/logger"
	"github.com/zjy-dev/cfuzz/internal/seedgen"
)

// NewSeedGenCommand creates the "seed-gen" subcommand: it scans every
// .c/.h file in src_dir for literal constants and writes a starter seed
// corpus into out_dir (spec §6).
func NewSeedGenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-gen <src_dir> <out_dir>",
		Short: "Generate starter seeds from the literal constants in a C source tree.",
		Long: `Extracts every string, character, and numeric literal from the .c and
.h files directly inside src_dir, writing each distinct value as its own
"<i>.txt" file in out_dir. Additionally, for every integer literal n with
1 <= n <= 65536, writes a run of n copies of 'a' unless a seed of that exact
byte length already exists.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeedGen(args[0], args[1])
		},
	}
	return cmd
}

func runSeedGen(srcDir, outDir string) error {
	logger.Init("info")

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("seed-gen: reading %s: %w", srcDir, err)
	}

	gen := seedgen.NewGenerator()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !match.Match(name, "*.c") && !match.Match(name, "*.h") {
			continue
		}

		path := filepath.Join(srcDir, name)
		if err := gen.ParseFile(path); err != nil {
			logger.Error("seed-gen: skipping %s: %v", path, err)
			continue
		}
		logger.Info("parsed %s", path)
	}

	n, err := gen.CreateSeeds(outDir)
	if err != nil {
		return fmt.Errorf("seed-gen: writing seeds to %s: %w", outDir, err)
	}
	logger.Info("created %d seeds in %s", n, outDir)
	return nil
}
