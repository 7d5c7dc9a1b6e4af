package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/zjy-dev/cfuzz/internal/oracle"
)

func TestEscapeJSONString(t *testing.T) {
	assert.Equal(t, "hello", EscapeJSONString([]byte("hello")))
	assert.Equal(t, "\\n\\t\\r\\b\\f", EscapeJSONString([]byte("\n\t\r\b\f")))
	assert.Equal(t, "\\u000b", EscapeJSONString([]byte("\v")))
	assert.Equal(t, "\\\"", EscapeJSONString([]byte("\"")))
	assert.Equal(t, "\\\\", EscapeJSONString([]byte("\\")))
	assert.Equal(t, "\\u0000", EscapeJSONString([]byte{0x00}))
	assert.Equal(t, "\\u007f", EscapeJSONString([]byte{0x7f}))
	assert.Equal(t, "~", EscapeJSONString([]byte{0x7e}))
}

func TestCrashReport_Marshal_ReturnCode(t *testing.T) {
	r := CrashReport{
		Input:           []byte("crashinput"),
		Oracle:          oracle.ReturnCodeError{Code: 1},
		ExecTimeSeconds: 0.01,
		Minimization:    &Minimization{UnminimizedSize: 100, NBSteps: 5, ExecTimeSeconds: 0.2},
	}
	data, err := r.Marshal()
	require.NoError(t, err)

	parsed := gjson.ParseBytes(data)
	assert.Equal(t, "crashinput", parsed.Get("input").String())
	assert.Equal(t, "return_code", parsed.Get("oracle").String())
	assert.Equal(t, int64(1), parsed.Get("bug_info").Int())
	assert.Equal(t, int64(100), parsed.Get("minimization.unminimized_size").Int())
	assert.False(t, parsed.Get("coverage").Exists())
}

func TestCrashReport_Marshal_GreyboxIncludesCoverage(t *testing.T) {
	cov := 42.5
	r := CrashReport{
		Input:           []byte("x"),
		Oracle:          oracle.TimeoutError{},
		CoveragePercent: &cov,
	}
	data, err := r.Marshal()
	require.NoError(t, err)
	parsed := gjson.ParseBytes(data)
	assert.Equal(t, "hangs", oracle.TimeoutError{}.Folder())
	assert.InDelta(t, 42.5, parsed.Get("coverage").Float(), 1e-9)
}

func TestWriter_Save_WritesUnderOracleFolder(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	require.NoError(t, w.Save(0, CrashReport{Input: []byte("a"), Oracle: oracle.ReturnCodeError{Code: 1}}))
	require.NoError(t, w.Save(0, CrashReport{Input: []byte("b"), Oracle: oracle.TimeoutError{}}))

	_, err := os.Stat(filepath.Join(dir, "crashes", "0.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "hangs", "0.json"))
	assert.NoError(t, err)
}

func TestStatsDocument_MarshalAndLoadResumeCounts(t *testing.T) {
	doc := StatsDocument{
		FuzzerName:    "defuzz",
		FuzzedProgram: "/bin/target",
		NBRuns:        10,
		NBFailedRuns:  2,
		NBHangedRuns:  1,
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.json")
	require.NoError(t, WriteStats(path, doc))

	counts := LoadResumeCounts(path)
	assert.Equal(t, uint64(10), counts.NBRuns)
	assert.Equal(t, uint64(2), counts.NBFailedRuns)
	assert.Equal(t, uint64(1), counts.NBHangedRuns)
}

func TestLoadResumeCounts_MissingFileYieldsZero(t *testing.T) {
	counts := LoadResumeCounts("/nonexistent/stats.json")
	assert.Equal(t, ResumeCounts{}, counts)
}
