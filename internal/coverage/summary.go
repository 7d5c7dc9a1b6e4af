package coverage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/zjy-dev/gcovr-json-util/v2/pkg/gcovr"
)

// BuildUncoveredReport renders the given path for a source file into
// gcovr-json-util's UncoveredReport shape. The fuzzer's own LCOV parsing
// (Parse, in lcov.go) is hand-rolled because the spec mandates its exact
// scan contract, but this aggregate "what's still uncovered" summary reuses
// this library's schema instead of inventing another JSON shape for the same
// concept. Since raw LCOV DA
// records carry no function boundaries, the uncovered lines are reported
// under one synthetic aggregate function per file.
func BuildUncoveredReport(sourceFile string, path Path) *gcovr.UncoveredReport {
	var uncoveredLines []int
	covered := 0
	for i, hit := range path {
		if hit {
			covered++
		} else {
			uncoveredLines = append(uncoveredLines, i+1)
		}
	}

	report := &gcovr.UncoveredReport{
		Files: []gcovr.UncoveredFile{
			{
				FilePath: sourceFile,
				UncoveredFunctions: []gcovr.UncoveredFunction{
					{
						FunctionName:         "<all>",
						DemangledName:        "<all>",
						UncoveredLineNumbers: uncoveredLines,
						TotalLines:           len(path),
						CoveredLines:         covered,
					},
				},
			},
		},
	}
	return report
}

// WriteUncoveredReport persists an UncoveredReport as JSON for tooling that
// consumes the gcovr JSON schema. Neither the fuzz engine nor any subcommand
// calls it.
func WriteUncoveredReport(path string, report *gcovr.UncoveredReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal uncovered report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write uncovered report %s: %w", path, err)
	}
	return nil
}
