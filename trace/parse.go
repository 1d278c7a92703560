package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/coherencesim/coherence"
	"github.com/sarchlab/coherencesim/memory"
)

// A ParseError reports a malformed script line.
type ParseError struct {
	Line int
	Text string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Msg, e.Text)
}

// Parse reads a whole script.
func Parse(r io.Reader) ([]Op, error) {
	var ops []Op

	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}

		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}

		op, err := parseFields(fields)
		if err != nil {
			return nil, &ParseError{
				Line: lineNo,
				Text: strings.TrimSpace(scanner.Text()),
				Msg:  err.Error(),
			}
		}

		op.Line = lineNo
		ops = append(ops, op)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return ops, nil
}

func parseFields(fields []string) (Op, error) {
	kind, ok := lookupKeyword(strings.ToLower(fields[0]))
	if !ok {
		return Op{}, fmt.Errorf("unknown operation %s", fields[0])
	}

	args := fields[1:]
	if len(args) != kind.operands() {
		return Op{}, fmt.Errorf("%s takes %d arguments, got %d",
			kind, kind.operands(), len(args))
	}

	op := Op{Kind: kind}
	if len(args) == 0 {
		return op, nil
	}

	agent, err := strconv.ParseInt(args[0], 0, 0)
	if err != nil {
		return Op{}, fmt.Errorf("bad agent: %w", err)
	}

	addr, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return Op{}, fmt.Errorf("bad address: %w", err)
	}

	op.Agent = coherence.AgentID(agent)
	op.Address = memory.Address(addr)

	if len(args) == 3 {
		value, err := strconv.ParseInt(args[2], 0, 64)
		if err != nil {
			return Op{}, fmt.Errorf("bad value: %w", err)
		}

		op.Value = memory.Word(value)
	}

	return op, nil
}

func lookupKeyword(s string) (OpKind, bool) {
	for k, kw := range opKeywords {
		if kw == s {
			return k, true
		}
	}

	return 0, false
}
