// Package oracle classifies child-runner results into findings (C2). Each
// case of Error is a tagged variant (per SPEC_FULL.md's Design Notes on
// replacing runtime-type-identity inheritance with sum types): ReturnCode,
// Timeout, and AddressSanitizer. Classification order is fixed: Timeout
// beats AddressSanitizer beats ReturnCode.
package oracle

import (
	"fmt"
	"regexp"

	"github.com/zjy-dev/cfuzz/internal/runner"
)

// Error is a DetectedError: a classified anomalous termination.
type Error interface {
	// Name is the serialized label used as the "oracle" field in reports.
	Name() string
	// Folder is the persisted-report subdirectory: "crashes" or "hangs".
	Folder() string
	// BugInfo renders the case-specific JSON fragment for the crash report.
	BugInfo() interface{}
	// Equals deduplicates: two errors collapse to the same UniqueErrorList
	// entry iff Equals returns true.
	Equals(other Error) bool
}

// ReturnCodeError is DetectedError::ReturnCode(int).
type ReturnCodeError struct {
	Code int
}

func (e ReturnCodeError) Name() string        { return "return_code" }
func (e ReturnCodeError) Folder() string      { return "crashes" }
func (e ReturnCodeError) BugInfo() interface{} { return e.Code }
func (e ReturnCodeError) Equals(o Error) bool {
	other, ok := o.(ReturnCodeError)
	return ok && other.Code == e.Code
}

// TimeoutError is DetectedError::Timeout. All timeouts collapse to a single
// equivalence class regardless of observed duration, per spec Open Question 1.
type TimeoutError struct{}

func (e TimeoutError) Name() string        { return "timeout" }
func (e TimeoutError) Folder() string      { return "hangs" }
func (e TimeoutError) BugInfo() interface{} { return nil }
func (e TimeoutError) Equals(o Error) bool {
	_, ok := o.(TimeoutError)
	return ok
}

// AddressSanitizerError is DetectedError::AddressSanitizer{kind,file,line}.
type AddressSanitizerError struct {
	Kind string
	File string
	Line string
}

func (e AddressSanitizerError) Name() string   { return "address_sanitizer" }
func (e AddressSanitizerError) Folder() string { return "crashes" }
func (e AddressSanitizerError) BugInfo() interface{} {
	return map[string]string{"kind": e.Kind, "file": e.File, "line": e.Line}
}

// Equals compares by (kind, file, line), not by raw exit code, per spec
// Open Question 2: ASan equality during minimization and dedup both use the
// structured fields.
func (e AddressSanitizerError) Equals(o Error) bool {
	other, ok := o.(AddressSanitizerError)
	return ok && other.Kind == e.Kind && other.File == e.File && other.Line == e.Line
}

var asanKindRe = regexp.MustCompile(`ERROR: AddressSanitizer: (.*) on address`)
var asanLocationRe = regexp.MustCompile(`\((main\.c)\):(\d+)`)

var kindRenames = map[string]string{
	"heap-buffer-overflow":   "heap",
	"stack-buffer-overflow":  "stack",
	"global-buffer-overflow": "global",
}

// Mode selects the per-fuzzer-mode ASan line-number offset, compensating for
// the header the instrumenter prepends to greybox-mode sources.
type Mode int

const (
	Blackbox Mode = iota
	Greybox
)

func (m Mode) lineOffset() int {
	if m == Greybox {
		return 4
	}
	return 0
}

func (m Mode) String() string {
	if m == Greybox {
		return "greybox"
	}
	return "blackbox"
}

// Detector classifies ExecutionResults using the ASan regexes above, which
// are compiled once at package initialization (per spec's Design Notes on
// replacing per-run regex compilation).
type Detector struct {
	mode Mode
}

// NewDetector creates a Detector for the given fuzzer mode.
func NewDetector(mode Mode) *Detector {
	return &Detector{mode: mode}
}

// Detect classifies a result, returning (error, true) on a match or
// (nil, false) if the result represents a clean run.
func (d *Detector) Detect(r runner.Result) (Error, bool) {
	if r.TimedOut {
		return TimeoutError{}, true
	}

	if e, ok := d.detectASan(r); ok {
		return e, true
	}

	if r.ExitCode != 0 {
		return ReturnCodeError{Code: r.ExitCode}, true
	}

	return nil, false
}

func (d *Detector) detectASan(r runner.Result) (AddressSanitizerError, bool) {
	kindMatch := asanKindRe.FindStringSubmatch(r.Stderr)
	if kindMatch == nil {
		return AddressSanitizerError{}, false
	}

	kind := kindMatch[1]
	if renamed, ok := kindRenames[kind]; ok {
		kind = renamed
	}

	file := ""
	line := ""
	if locMatch := asanLocationRe.FindStringSubmatch(r.Stderr); locMatch != nil {
		file = locMatch[1]
		lineNum := 0
		fmt.Sscanf(locMatch[2], "%d", &lineNum)
		lineNum += d.mode.lineOffset()
		line = fmt.Sprintf("%d", lineNum)
	}

	return AddressSanitizerError{Kind: kind, File: file, Line: line}, true
}

// IsSame reports whether r still reproduces the same classified failure as
// e. Used by the minimizer to check failure preservation across a candidate
// shrink (spec §4.7) — it is Detect followed by Equals, per invariant 1:
// Detect(r).is_some() ↔ is_same(r) when comparing against the detected
// instance.
func (d *Detector) IsSame(e Error, r runner.Result) bool {
	detected, ok := d.Detect(r)
	if !ok {
		return false
	}
	return detected.Equals(e)
}
