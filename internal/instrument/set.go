package instrument

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Set instruments a group of C translation units together, so the emitted
// counter arrays and the LCOV-writing _GenerateLcov function (spliced into
// whichever file defines main) can reference every file's counters, exactly
// as code-coverage.cpp drives FileInstrument over argv[1:].
type Set struct {
	files   []*File
	mainIdx int
}

// NewSet creates an empty instrumentation set.
func NewSet() *Set {
	return &Set{mainIdx: -1}
}

// AddFile reads, parses, and registers a source file. File IDs are assigned
// in the order files are added, starting at 0.
func (s *Set) AddFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("instrument: reading %s: %w", path, err)
	}

	f := NewFile(path, len(s.files), src)
	if err := f.Parse(); err != nil {
		return err
	}
	if f.IsMain {
		s.mainIdx = len(s.files)
	}
	s.files = append(s.files, f)
	return nil
}

// Files returns the registered files in fileID order.
func (s *Set) Files() []*File { return s.files }

// WriteDir emits one "<fileID>_instrumented_main.c" per registered file
// into dir, each prefixed with its extern/header prologue, matching
// code-coverage.cpp's output naming.
func (s *Set) WriteDir(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("instrument: creating %s: %w", dir, err)
	}

	var written []string
	for _, f := range s.files {
		out := filepath.Join(dir, fmt.Sprintf("%d_instrumented_main.c", f.FileID))

		var buf bytes.Buffer
		if f.IsMain {
			s.writeMainHeader(&buf)
		} else {
			s.writeExternHeader(&buf, f)
		}
		buf.Write(f.Render())

		if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
			return nil, fmt.Errorf("instrument: writing %s: %w", out, err)
		}
		written = append(written, out)
	}
	return written, nil
}

// writeExternHeader emits the "extern unsigned long long _F<id>[];"
// declaration a non-main file needs to reference its own counter array,
// which is defined in the main file.
func (s *Set) writeExternHeader(buf *bytes.Buffer, f *File) {
	fmt.Fprintf(buf, "extern unsigned long long _F%d[];\n", f.FileID)
}

// writeMainHeader emits the counter array definitions for every file and
// the generated _GenerateLcov function that dumps them to coverage.lcov in
// the exact format internal/coverage expects to parse back: TN:/SF:/DA:/
// LH:/LF:/end_of_record.
func (s *Set) writeMainHeader(buf *bytes.Buffer) {
	for _, f := range s.files {
		fmt.Fprintf(buf, "unsigned long long _F%d[%d];", f.FileID, f.NCounters())
	}
	buf.WriteByte('\n')

	buf.WriteString("#include <stdio.h>\n#include <stdlib.h>\n")
	buf.WriteString(`void _GenerateLcov(){FILE *f = fopen("coverage.lcov", "w");`)

	for _, f := range s.files {
		fmt.Fprintf(buf, "unsigned long long LH%d=0;for(unsigned long long i=0;i<%d;++i)if(_F%d[i]>0)++LH%d;",
			f.FileID, f.NCounters(), f.FileID, f.FileID)
	}

	buf.WriteString(`fprintf(f,"TN:test\n`)
	for _, f := range s.files {
		fmt.Fprintf(buf, "SF:%s\\n", f.Name)
		for _, c := range f.counters {
			fmt.Fprintf(buf, "DA:%d,%%llu\\n", c.line)
		}
		fmt.Fprintf(buf, "LH:%%llu\\nLF:%d\\nend_of_record\\n", f.NCounters())
	}
	buf.WriteString(`"`)

	for _, f := range s.files {
		buf.WriteString(",")
		for i := range f.counters {
			fmt.Fprintf(buf, "_F%d[%d],", f.FileID, i)
		}
		fmt.Fprintf(buf, "LH%d", f.FileID)
	}
	buf.WriteString(");}\n")
}
