// Package action implements the query-to-action boundary shim: parsing
// whitespace-separated HAMMER(row,reads,bitflips) tokens off a request
// line into a typed ActionSequence the executor consumes. It plays the
// same role disassemble.go plays for 6502 mnemonics: turning external
// text into a typed instruction stream, tolerant of malformed input at
// the boundary rather than panicking.
package action

import (
	"fmt"
	"regexp"
	"strconv"
)

// HammerAction is one row-hammering request: hammer the given logical
// row reads times. bitflips is an expected/observed annotation supplied
// by the caller; this package does not validate or interpret it.
type HammerAction struct {
	Row      uint32
	Reads    uint64
	Bitflips uint32
}

// ActionSequence is an ordered list of HammerAction. Order is
// semantically significant: it determines hammering order under
// sequential mode.
type ActionSequence []HammerAction

// Equal reports whether two ActionSequences have the same length and
// field-equal actions in the same order, matching the CompilerCache
// reuse invariant (spec.md §3's CompilerCache, §8 property 8).
func (s ActionSequence) Equal(other ActionSequence) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// MalformedAction indicates a request token that does not match the
// HAMMER(<row>,<reads>,<bitflips>) grammar.
type MalformedAction struct {
	Token string
}

// Error implements the error interface.
func (e MalformedAction) Error() string {
	return fmt.Sprintf("action: malformed token %q", e.Token)
}

// tokenPattern matches one HAMMER(...) token, tolerating whitespace
// around the commas and inside the parentheses.
var tokenPattern = regexp.MustCompile(`HAMMER\s*\(\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*\)`)

// wholeTokenPattern additionally requires the match to span the entire
// candidate substring, so that e.g. "HAMMER(1,2,3) garbage" is rejected
// token-by-token rather than silently accepted.
var wholeTokenPattern = regexp.MustCompile(`^` + tokenPattern.String() + `$`)

// ParseLine splits a request line into whitespace-separated tokens and
// parses each as a HAMMER(...) action. The first malformed token aborts
// parsing and returns a MalformedAction error; per spec.md §7 this is
// recovered at the request boundary by the caller, not fatal to the
// executor.
func ParseLine(line string) (ActionSequence, error) {
	fields := splitFields(line)
	seq := make(ActionSequence, 0, len(fields))
	for _, tok := range fields {
		a, err := ParseToken(tok)
		if err != nil {
			return nil, err
		}
		seq = append(seq, a)
	}
	return seq, nil
}

// ParseToken parses a single HAMMER(<row>,<reads>,<bitflips>) token.
func ParseToken(tok string) (HammerAction, error) {
	m := wholeTokenPattern.FindStringSubmatch(tok)
	if m == nil {
		return HammerAction{}, MalformedAction{Token: tok}
	}
	row, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return HammerAction{}, MalformedAction{Token: tok}
	}
	reads, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return HammerAction{}, MalformedAction{Token: tok}
	}
	bitflips, err := strconv.ParseUint(m[3], 10, 32)
	if err != nil {
		return HammerAction{}, MalformedAction{Token: tok}
	}
	return HammerAction{Row: uint32(row), Reads: reads, Bitflips: uint32(bitflips)}, nil
}

// splitFields splits line on ASCII whitespace, discarding empty
// fields, without relying on the HAMMER(...) tokens themselves
// containing no embedded spaces around the parens (they may, per
// spec.md §4.1 and §6).
func splitFields(line string) []string {
	var fields []string
	start := -1
	for i, r := range line {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if start >= 0 {
				fields = append(fields, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, line[start:])
	}
	return mergeParenFields(fields)
}

// mergeParenFields re-joins fields that were split mid-parenthesis by
// whitespace tolerated inside HAMMER(...) (e.g. "HAMMER(0," "10000," "0)"),
// since splitFields is whitespace-naive. It merges consecutive fields
// until parentheses balance.
func mergeParenFields(fields []string) []string {
	var out []string
	var buf string
	depth := 0
	for _, f := range fields {
		if buf == "" {
			buf = f
		} else {
			buf += " " + f
		}
		depth += countRune(f, '(') - countRune(f, ')')
		if depth <= 0 {
			out = append(out, buf)
			buf = ""
			depth = 0
		}
	}
	if buf != "" {
		out = append(out, buf)
	}
	return out
}

func countRune(s string, r rune) int {
	n := 0
	for _, c := range s {
		if c == r {
			n++
		}
	}
	return n
}
