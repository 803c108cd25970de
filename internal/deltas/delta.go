// Package deltas records how a file's text changes between observations.
//
// A Delta is an ordered list of Insert and Delete operations plus the time it
// was captured. Offsets and lengths count Unicode code points, and each
// operation is expressed against the text produced by the operations before
// it, so replaying a delta is a single left-to-right pass:
//
//	next, err := deltas.Apply(prev, delta.Operations)
//
// Deltas for one file are stored as a JSON array that only ever grows:
//
//	[
//	  {"operations":[{"insert":{"offset":0,"text":"test"}}],"timestamp_ms":1700000000000},
//	  {"operations":[{"insert":{"offset":4,"text":"2"}}],"timestamp_ms":1700000005000}
//	]
package deltas

import (
	"fmt"
	"time"
)

// Insert adds Text at Offset.
type Insert struct {
	Offset int    `json:"offset"`
	Text   string `json:"text"`
}

// Delete removes Length code points starting at Offset.
type Delete struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// Operation is exactly one of Insert or Delete.
type Operation struct {
	Insert *Insert `json:"insert,omitempty"`
	Delete *Delete `json:"delete,omitempty"`
}

// InsertOp builds an insert operation.
func InsertOp(offset int, text string) Operation {
	return Operation{Insert: &Insert{Offset: offset, Text: text}}
}

// DeleteOp builds a delete operation.
func DeleteOp(offset, length int) Operation {
	return Operation{Delete: &Delete{Offset: offset, Length: length}}
}

// String renders the operation for logs and the CLI.
func (o Operation) String() string {
	switch {
	case o.Insert != nil:
		return fmt.Sprintf("Insert(%d, %q)", o.Insert.Offset, o.Insert.Text)
	case o.Delete != nil:
		return fmt.Sprintf("Delete(%d, %d)", o.Delete.Offset, o.Delete.Length)
	default:
		return "Invalid()"
	}
}

// Validate checks that exactly one variant is set with sane bounds.
func (o Operation) Validate() error {
	switch {
	case o.Insert != nil && o.Delete != nil:
		return fmt.Errorf("operation has both insert and delete")
	case o.Insert != nil:
		if o.Insert.Offset < 0 {
			return fmt.Errorf("insert offset must be non-negative (got %d)", o.Insert.Offset)
		}
	case o.Delete != nil:
		if o.Delete.Offset < 0 || o.Delete.Length < 0 {
			return fmt.Errorf("delete bounds must be non-negative (got %d, %d)", o.Delete.Offset, o.Delete.Length)
		}
	default:
		return fmt.Errorf("operation has neither insert nor delete")
	}
	return nil
}

// Delta is one observed change of a file.
type Delta struct {
	Operations []Operation `json:"operations"`

	// TimestampMs is the capture time in unix milliseconds
	TimestampMs int64 `json:"timestamp_ms"`
}

// New computes the delta from prev to next captured at the given time.
func New(prev, next string, at time.Time) Delta {
	return Delta{
		Operations:  Compute(prev, next),
		TimestampMs: at.UnixMilli(),
	}
}

// Timestamp returns the capture time.
func (d Delta) Timestamp() time.Time {
	return time.UnixMilli(d.TimestampMs)
}

// Apply replays ops against text in order.
func Apply(text string, ops []Operation) (string, error) {
	runes := []rune(text)

	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return "", fmt.Errorf("operation %d: %w", i, err)
		}

		switch {
		case op.Insert != nil:
			if op.Insert.Offset > len(runes) {
				return "", fmt.Errorf("operation %d: insert offset %d past end %d", i, op.Insert.Offset, len(runes))
			}
			insert := []rune(op.Insert.Text)
			out := make([]rune, 0, len(runes)+len(insert))
			out = append(out, runes[:op.Insert.Offset]...)
			out = append(out, insert...)
			out = append(out, runes[op.Insert.Offset:]...)
			runes = out

		case op.Delete != nil:
			end := op.Delete.Offset + op.Delete.Length
			if end > len(runes) {
				return "", fmt.Errorf("operation %d: delete range %d..%d past end %d", i, op.Delete.Offset, end, len(runes))
			}
			runes = append(runes[:op.Delete.Offset:op.Delete.Offset], runes[end:]...)
		}
	}

	return string(runes), nil
}

// Replay applies every delta in order starting from base.
func Replay(base string, deltas []Delta) (string, error) {
	text := base
	for i, d := range deltas {
		next, err := Apply(text, d.Operations)
		if err != nil {
			return "", fmt.Errorf("delta %d: %w", i, err)
		}
		text = next
	}
	return text, nil
}
