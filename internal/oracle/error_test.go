package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zjy-dev/cfuzz/internal/runner"
)

// TestDetect_ReturnCode covers the silent-stderr case from Open Question 3:
// a nonzero exit with nothing on stderr classifies as ReturnCode, never ASan.
func TestDetect_ReturnCode(t *testing.T) {
	d := NewDetector(Blackbox)
	e, ok := d.Detect(runner.Result{ExitCode: 1})
	assert.True(t, ok)
	assert.Equal(t, ReturnCodeError{Code: 1}, e)
}

func TestDetect_CleanRun(t *testing.T) {
	d := NewDetector(Blackbox)
	_, ok := d.Detect(runner.Result{ExitCode: 0})
	assert.False(t, ok)
}

func TestDetect_Timeout_BeatsEverythingElse(t *testing.T) {
	d := NewDetector(Blackbox)
	e, ok := d.Detect(runner.Result{TimedOut: true, ExitCode: 1, Stderr: "ERROR: AddressSanitizer: heap-buffer-overflow on address 0x0 (main.c):30"})
	assert.True(t, ok)
	assert.Equal(t, TimeoutError{}, e)
}

// TestDetect_AddressSanitizer_Blackbox covers scenario S4.
func TestDetect_AddressSanitizer_Blackbox(t *testing.T) {
	d := NewDetector(Blackbox)
	r := runner.Result{
		ExitCode: 1,
		Stderr:   "ERROR: AddressSanitizer: heap-buffer-overflow on address 0xdead (main.c):30",
	}
	e, ok := d.Detect(r)
	assert.True(t, ok)
	asan, isASan := e.(AddressSanitizerError)
	if assert.True(t, isASan) {
		assert.Equal(t, "heap", asan.Kind)
		assert.Equal(t, "main.c", asan.File)
		assert.Equal(t, "30", asan.Line)
	}
}

func TestDetect_AddressSanitizer_GreyboxOffset(t *testing.T) {
	d := NewDetector(Greybox)
	r := runner.Result{
		ExitCode: 1,
		Stderr:   "ERROR: AddressSanitizer: stack-buffer-overflow on address 0xdead (main.c):26",
	}
	e, ok := d.Detect(r)
	assert.True(t, ok)
	asan := e.(AddressSanitizerError)
	assert.Equal(t, "stack", asan.Kind)
	assert.Equal(t, "30", asan.Line)
}

func TestDetect_AddressSanitizer_UnknownKindPassedThrough(t *testing.T) {
	d := NewDetector(Blackbox)
	r := runner.Result{
		ExitCode: 1,
		Stderr:   "ERROR: AddressSanitizer: use-after-free on address 0xdead (main.c):12",
	}
	e, _ := d.Detect(r)
	asan := e.(AddressSanitizerError)
	assert.Equal(t, "use-after-free", asan.Kind)
}

// TestInvariant1 checks Detect(r).is_some() ↔ is_same(r) against the detected instance.
func TestInvariant1(t *testing.T) {
	d := NewDetector(Blackbox)
	results := []runner.Result{
		{ExitCode: 0},
		{ExitCode: 1},
		{TimedOut: true},
		{ExitCode: 1, Stderr: "ERROR: AddressSanitizer: heap-buffer-overflow on address 0x0 (main.c):5"},
	}
	for _, r := range results {
		e, ok := d.Detect(r)
		if !ok {
			continue
		}
		assert.True(t, d.IsSame(e, r))
	}
}

// TestInvariant8_Dedup is the dedup congruence invariant.
func TestInvariant8_Dedup(t *testing.T) {
	dedup := NewDedup()

	id1, isNew1 := dedup.Append(ReturnCodeError{Code: 1})
	assert.True(t, isNew1)
	assert.Equal(t, 0, id1)

	id2, isNew2 := dedup.Append(ReturnCodeError{Code: 1})
	assert.False(t, isNew2)
	assert.Equal(t, id1, id2)

	id3, isNew3 := dedup.Append(ReturnCodeError{Code: 2})
	assert.True(t, isNew3)
	assert.NotEqual(t, id1, id3)

	assert.Equal(t, 2, dedup.Len())
}

func TestTimeoutEquality_CollapsesRegardlessOfDuration(t *testing.T) {
	a := TimeoutError{}
	b := TimeoutError{}
	assert.True(t, a.Equals(b))
}
