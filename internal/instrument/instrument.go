// Package instrument implements the CX source instrumenter: it rewrites a C
// translation unit so that, once compiled and linked together, the resulting
// binary emits an LCOV trace of itself on exit (spec §6, "instrument").
//
// There is no C parser or tree-sitter binding anywhere in the example corpus
// this tool was grounded on (see DESIGN.md, "Hand-rolled scanner"), so this
// package walks the source with a small recursive-descent statement scanner
// instead of a real AST, built to match the exact counter-placement and
// brace-wrapping rules of the teacher's C++ predecessor
// (_examples/original_source/code-coverage/FileInstrument.h): one hit
// counter is inserted immediately before every return/break/continue/if/
// declaration/expression/for/while statement reached by straight-line
// control flow, braceless if/for/while/else bodies are wrapped in braces so
// a counter can be attached to them, and switch/case labels themselves are
// never counted — only the statements they guard are.
package instrument

import (
	"bytes"
	"fmt"
	"sort"
)

// strInsertion is a verbatim text insertion at a byte offset — used for the
// brace-wrapping of one-liner bodies and for the atexit(_GenerateLcov) call
// spliced in right after main's opening brace.
type strInsertion struct {
	pos  int
	text string
}

// counterInsertion marks a byte offset where "++_F<fileID>[slot];" must be
// injected. slot is implied by position in the File.lines slice.
type counterInsertion struct {
	pos  int
	line int // 1-based source line, for the LCOV DA: record
}

// File holds the instrumentation state for a single translation unit.
type File struct {
	Name   string
	FileID int
	IsMain bool

	src  []byte
	last int // line of the last counter inserted, to dedup per instrumentLine

	counters []counterInsertion
	strs     []strInsertion
}

// NewFile creates an uninstrumented File. Call Parse to populate it.
func NewFile(name string, fileID int, src []byte) *File {
	return &File{Name: name, FileID: fileID, src: src, last: -1}
}

// NCounters reports how many hit-counter slots this file needs.
func (f *File) NCounters() int { return len(f.counters) }

// Parse scans the source for top-level function definitions and
// instruments each one in place (in f.counters/f.strs — Parse never
// mutates f.src). Safe to call once per File.
func (f *File) Parse() error {
	s := &scanner{src: f.src}
	pos := 0
	for pos < len(s.src) {
		pos = s.skipTrivia(pos)
		if pos >= len(s.src) {
			break
		}

		fnStart, bodyOpen, name, ok := findNextFunctionDefinition(s, pos)
		if !ok {
			break
		}
		_ = fnStart

		bodyClose, err := s.matchBrace(bodyOpen)
		if err != nil {
			return fmt.Errorf("instrument: %s: unterminated body for %s: %w", f.Name, name, err)
		}

		bodyStart := bodyOpen + 1
		if name == "main" {
			f.IsMain = true
			f.strs = append(f.strs, strInsertion{pos: bodyOpen + 1, text: "atexit(_GenerateLcov);"})
		}

		if err := f.instrumentBlock(s, bodyStart, bodyClose); err != nil {
			return fmt.Errorf("instrument: %s: %w", f.Name, err)
		}

		pos = bodyClose + 1
	}
	return nil
}

// instrumentLine records a counter at pos unless another counter already
// covers the same source line, matching FileInstrument::instrumentLine's
// lastInstrumentedLine guard.
func (f *File) instrumentLine(s *scanner, pos int) {
	line := s.lineOf(pos)
	if line == f.last {
		return
	}
	f.last = line
	f.counters = append(f.counters, counterInsertion{pos: pos, line: line})
}

// instrumentBlock processes the statements directly inside a compound
// statement's braces, [start, end).
func (f *File) instrumentBlock(s *scanner, start, end int) error {
	pos := start
	for {
		pos = s.skipTrivia(pos)
		if pos >= end {
			return nil
		}
		next, err := f.instrumentStatement(s, pos, end)
		if err != nil {
			return err
		}
		if next <= pos {
			return fmt.Errorf("scanner stalled at byte %d", pos)
		}
		pos = next
	}
}

// instrumentStatement instruments exactly one statement starting at pos
// (a nested block, an if/for/while/switch construct, or a plain
// expression/declaration statement) and returns the offset just past it.
func (f *File) instrumentStatement(s *scanner, pos, limit int) (int, error) {
	switch {
	case s.src[pos] == '{':
		close, err := s.matchBrace(pos)
		if err != nil {
			return 0, err
		}
		if err := f.instrumentBlock(s, pos+1, close); err != nil {
			return 0, err
		}
		return close + 1, nil

	case s.matchKeyword(pos, "if"):
		return f.instrumentIf(s, pos)

	case s.matchKeyword(pos, "for"), s.matchKeyword(pos, "while"):
		return f.instrumentLoop(s, pos)

	case s.matchKeyword(pos, "switch"):
		return f.instrumentSwitch(s, pos)

	default:
		return f.instrumentPlainStatement(s, pos, limit)
	}
}

func (f *File) instrumentIf(s *scanner, pos int) (int, error) {
	f.instrumentLine(s, pos)

	p := pos + len("if")
	p = s.skipTrivia(p)
	open, err := s.expect(p, '(')
	if err != nil {
		return 0, err
	}
	close, err := s.matchParen(open)
	if err != nil {
		return 0, err
	}

	thenEnd, err := f.instrumentPossibleOneLiner(s, close+1)
	if err != nil {
		return 0, err
	}

	after := s.skipTrivia(thenEnd)
	if s.matchKeyword(after, "else") {
		elseEnd, err := f.instrumentPossibleOneLiner(s, after+len("else"))
		if err != nil {
			return 0, err
		}
		return elseEnd, nil
	}
	return thenEnd, nil
}

func (f *File) instrumentLoop(s *scanner, pos int) (int, error) {
	f.instrumentLine(s, pos)

	kwLen := len("for")
	if s.matchKeyword(pos, "while") {
		kwLen = len("while")
	}
	p := s.skipTrivia(pos + kwLen)
	open, err := s.expect(p, '(')
	if err != nil {
		return 0, err
	}
	close, err := s.matchParen(open)
	if err != nil {
		return 0, err
	}
	return f.instrumentPossibleOneLiner(s, close+1)
}

// instrumentSwitch finds the switch body and hands its cases to
// instrumentSwitchBody. The switch keyword itself is never counted,
// matching FileInstrument's sym_switch_statement handling.
func (f *File) instrumentSwitch(s *scanner, pos int) (int, error) {
	p := s.skipTrivia(pos + len("switch"))
	open, err := s.expect(p, '(')
	if err != nil {
		return 0, err
	}
	close, err := s.matchParen(open)
	if err != nil {
		return 0, err
	}
	p = s.skipTrivia(close + 1)
	braceOpen, err := s.expect(p, '{')
	if err != nil {
		return 0, err
	}
	braceClose, err := s.matchBrace(braceOpen)
	if err != nil {
		return 0, err
	}
	if err := f.instrumentSwitchBody(s, braceOpen+1, braceClose); err != nil {
		return 0, err
	}
	return braceClose + 1, nil
}

// instrumentSwitchBody instruments the statements guarded by case/default
// labels without treating the labels themselves as statements.
func (f *File) instrumentSwitchBody(s *scanner, start, end int) error {
	pos := start
	for {
		pos = s.skipTrivia(pos)
		if pos >= end {
			return nil
		}
		if s.matchKeyword(pos, "case") {
			colon, err := s.findTopLevel(pos, end, ':')
			if err != nil {
				return err
			}
			pos = colon + 1
			continue
		}
		if s.matchKeyword(pos, "default") {
			p := s.skipTrivia(pos + len("default"))
			colon, err := s.expect(p, ':')
			if err != nil {
				return err
			}
			pos = colon + 1
			continue
		}
		next, err := f.instrumentStatement(s, pos, end)
		if err != nil {
			return err
		}
		pos = next
	}
}

// instrumentPossibleOneLiner instruments the body of an if/for/while
// construct, wrapping it in braces first if it isn't already a block.
func (f *File) instrumentPossibleOneLiner(s *scanner, pos int) (int, error) {
	start := s.skipTrivia(pos)
	if start < len(s.src) && s.src[start] == '{' {
		return f.instrumentStatement(s, start, len(s.src))
	}

	f.strs = append(f.strs, strInsertion{pos: start, text: "{"})
	end, err := f.instrumentStatement(s, start, len(s.src))
	if err != nil {
		return 0, err
	}
	f.strs = append(f.strs, strInsertion{pos: end, text: "}"})
	return end, nil
}

// instrumentPlainStatement handles a declaration/expression/return/break/
// continue statement: a single counter at its start, terminated by a ';' at
// bracket depth zero.
func (f *File) instrumentPlainStatement(s *scanner, pos, limit int) (int, error) {
	f.instrumentLine(s, pos)
	end, err := s.findStatementEnd(pos, limit)
	if err != nil {
		return 0, err
	}
	return end + 1, nil
}

// Render produces the instrumented translation unit body: the original
// source with every counter/brace/atexit insertion spliced in, in byte-
// offset order. It does not include the extern/header prologue — see
// Set.Write.
func (f *File) Render() []byte {
	type item struct {
		pos  int
		rank int // insertions tied on pos resolve string inserts (braces, atexit) before counters
		text string
	}
	items := make([]item, 0, len(f.counters)+len(f.strs))
	for i, c := range f.counters {
		items = append(items, item{pos: c.pos, rank: 1, text: fmt.Sprintf("++_F%d[%d];", f.FileID, i)})
	}
	for _, s := range f.strs {
		items = append(items, item{pos: s.pos, rank: 0, text: s.text})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].pos != items[j].pos {
			return items[i].pos < items[j].pos
		}
		return items[i].rank < items[j].rank
	})

	var out bytes.Buffer
	cursor := 0
	for _, it := range items {
		out.Write(f.src[cursor:it.pos])
		out.WriteString(it.text)
		cursor = it.pos
	}
	out.Write(f.src[cursor:])
	return out.Bytes()
}
