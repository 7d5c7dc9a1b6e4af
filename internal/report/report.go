// Package report implements the reporter half of C9: persisting a
// CrashReport JSON document per unique finding and the running stats
// document.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
	"github.com/zjy-dev/cfuzz/internal/oracle"
)

// Minimization carries the spec's minimization sub-object.
type Minimization struct {
	UnminimizedSize int
	NBSteps         int
	ExecTimeSeconds float64
}

// CrashReport is one unique finding's persisted document.
type CrashReport struct {
	Input           []byte
	Oracle          oracle.Error
	ExecTimeSeconds float64
	Minimization    *Minimization
	// CoveragePercent is set only for greybox reports: the best coverage
	// observed so far, as a percentage.
	CoveragePercent *float64
}

// Marshal renders r as the mandatory JSON fields from spec §4.9:
// input, oracle, bug_info, execution_time, minimization{...}, and
// (greybox-only) coverage. The "input" field is escaped by hand because it
// may carry bytes that are not valid UTF-8; every other field is built
// through sjson so the document stays readable and is pretty-printed for
// on-disk inspection.
func (r CrashReport) Marshal() ([]byte, error) {
	doc := []byte(`{"input":"` + EscapeJSONString(r.Input) + `"}`)

	var err error
	doc, err = sjson.SetBytes(doc, "oracle", r.Oracle.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to set oracle field: %w", err)
	}
	doc, err = sjson.SetBytes(doc, "bug_info", r.Oracle.BugInfo())
	if err != nil {
		return nil, fmt.Errorf("failed to set bug_info field: %w", err)
	}
	doc, err = sjson.SetBytes(doc, "execution_time", r.ExecTimeSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to set execution_time field: %w", err)
	}

	min := r.Minimization
	if min == nil {
		min = &Minimization{}
	}
	doc, err = sjson.SetBytes(doc, "minimization.unminimized_size", min.UnminimizedSize)
	if err != nil {
		return nil, fmt.Errorf("failed to set minimization.unminimized_size: %w", err)
	}
	doc, err = sjson.SetBytes(doc, "minimization.nb_steps", min.NBSteps)
	if err != nil {
		return nil, fmt.Errorf("failed to set minimization.nb_steps: %w", err)
	}
	doc, err = sjson.SetBytes(doc, "minimization.execution_time", min.ExecTimeSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to set minimization.execution_time: %w", err)
	}

	if r.CoveragePercent != nil {
		doc, err = sjson.SetBytes(doc, "coverage", *r.CoveragePercent)
		if err != nil {
			return nil, fmt.Errorf("failed to set coverage field: %w", err)
		}
	}

	return pretty.Pretty(doc), nil
}

// Writer persists crash reports under <result_dir>/{crashes,hangs}/<id>.json.
type Writer struct {
	resultDir string
}

// NewWriter creates a report Writer rooted at resultDir.
func NewWriter(resultDir string) *Writer {
	return &Writer{resultDir: resultDir}
}

// Save writes r to its id-named file under the folder named by its oracle
// case ("crashes" or "hangs").
func (w *Writer) Save(id int, r CrashReport) error {
	dir := filepath.Join(w.resultDir, r.Oracle.Folder())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}

	data, err := r.Marshal()
	if err != nil {
		return err
	}

	path := filepath.Join(dir, fmt.Sprintf("%d.json", id))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
