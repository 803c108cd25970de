package deltas

import (
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// refineLimit is the largest replaced region, in code points across both
// sides, that is diffed character by character. Larger regions are emitted
// as a whole-range Delete plus Insert.
const refineLimit = 2048

// Compute returns the operations that turn prev into next.
//
// The common prefix and suffix are stripped first. What remains is diffed by
// line with difflib's SequenceMatcher (auto-junk disabled, so the result
// depends only on the inputs), and each replaced line range small enough is
// refined by code point. A replaced range becomes a Delete followed by an
// Insert at the same offset.
func Compute(prev, next string) []Operation {
	if prev == next {
		return nil
	}

	a := []rune(prev)
	b := []rune(next)

	head := 0
	for head < len(a) && head < len(b) && a[head] == b[head] {
		head++
	}
	a, b = a[head:], b[head:]

	tail := 0
	for tail < len(a) && tail < len(b) && a[len(a)-1-tail] == b[len(b)-1-tail] {
		tail++
	}
	a, b = a[:len(a)-tail], b[:len(b)-tail]

	e := &emitter{pos: head}
	e.diffLines(a, b)
	return e.ops
}

// emitter accumulates operations; pos is the offset in the partially
// rewritten text.
type emitter struct {
	ops []Operation
	pos int
}

func (e *emitter) keep(n int) {
	e.pos += n
}

func (e *emitter) delete(n int) {
	if n > 0 {
		e.ops = append(e.ops, DeleteOp(e.pos, n))
	}
}

func (e *emitter) insert(text string) {
	if text == "" {
		return
	}
	e.ops = append(e.ops, InsertOp(e.pos, text))
	e.pos += utf8.RuneCountInString(text)
}

func (e *emitter) replace(a, b []rune) {
	e.delete(len(a))
	e.insert(string(b))
}

func (e *emitter) diffLines(a, b []rune) {
	if len(a) == 0 || len(b) == 0 {
		e.replace(a, b)
		return
	}

	la := splitLines(string(a))
	lb := splitLines(string(b))

	matcher := difflib.NewMatcherWithJunk(la, lb, false, nil)
	for _, code := range matcher.GetOpCodes() {
		oldText := strings.Join(la[code.I1:code.I2], "")
		newText := strings.Join(lb[code.J1:code.J2], "")

		switch code.Tag {
		case 'e':
			e.keep(utf8.RuneCountInString(oldText))
		case 'd':
			e.delete(utf8.RuneCountInString(oldText))
		case 'i':
			e.insert(newText)
		case 'r':
			e.refine([]rune(oldText), []rune(newText))
		}
	}
}

// refine diffs a replaced line range by code point.
func (e *emitter) refine(a, b []rune) {
	if len(a)+len(b) > refineLimit {
		e.replace(a, b)
		return
	}

	ca := splitRunes(a)
	cb := splitRunes(b)

	matcher := difflib.NewMatcherWithJunk(ca, cb, false, nil)
	for _, code := range matcher.GetOpCodes() {
		switch code.Tag {
		case 'e':
			e.keep(code.I2 - code.I1)
		case 'd':
			e.delete(code.I2 - code.I1)
		case 'i':
			e.insert(strings.Join(cb[code.J1:code.J2], ""))
		case 'r':
			e.delete(code.I2 - code.I1)
			e.insert(strings.Join(cb[code.J1:code.J2], ""))
		}
	}
}

// splitLines splits s after every newline, keeping the newline.
func splitLines(s string) []string {
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func splitRunes(r []rune) []string {
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = string(c)
	}
	return out
}
