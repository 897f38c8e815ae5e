// Package changefeed buffers table changes for changefeed subscribers: a
// bounded queue that counts what it drops, and optional squashing of
// changes to the same document.
package changefeed

import (
	"fmt"

	"github.com/andreyvit/reql"
)

type (
	// Change is one write to one document. A nil Old means the document did
	// not exist before the write; a nil New means it was deleted.
	Change struct {
		// Source identifies the unioned input the change came from.
		Source int
		Key    string
		Old    reql.Datum
		New    reql.Datum

		// Positions within an ordered, limited result, when known.
		OldOffset *int
		NewOffset *int
	}

	Flags uint64

	Op int
)

const (
	OpNone   Op = 0
	OpInsert Op = 1
	OpUpdate Op = 2
	OpDelete Op = 3
)

const (
	FlagIncludeInitial Flags = 1 << iota
	FlagIncludeStates
	FlagIncludeTypes
	FlagIncludeOffsets
	FlagSquash
)

func (chg Change) Op() Op {
	switch {
	case chg.Old == nil && chg.New == nil:
		return OpNone
	case chg.Old == nil:
		return OpInsert
	case chg.New == nil:
		return OpDelete
	default:
		return OpUpdate
	}
}

// IsNoop reports whether applying the change leaves the document as it was.
func (chg Change) IsNoop() bool {
	switch chg.Op() {
	case OpNone:
		return true
	case OpUpdate:
		return reql.Equal(chg.Old, chg.New)
	default:
		return false
	}
}

// Datum renders the change as the {old_val, new_val} object a feed returns.
func (chg Change) Datum(flags Flags) reql.Object {
	obj := reql.Object{
		"old_val": orNull(chg.Old),
		"new_val": orNull(chg.New),
	}
	if flags.Contains(FlagIncludeTypes) {
		obj["type"] = reql.String(chg.Op().TypeName())
	}
	if flags.Contains(FlagIncludeOffsets) {
		obj["old_offset"] = offset(chg.OldOffset)
		obj["new_offset"] = offset(chg.NewOffset)
	}
	return obj
}

func offset(p *int) reql.Datum {
	if p == nil {
		return reql.NullDatum
	}
	return reql.Number(*p)
}

func orNull(d reql.Datum) reql.Datum {
	if d == nil {
		return reql.NullDatum
	}
	return d
}

func (v Flags) Contains(f Flags) bool {
	return (v & f) == f
}
func (v Flags) ContainsAny(f Flags) bool {
	return (v & f) != 0
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// TypeName is the value of the "type" field under include_types. Changes
// produced for include_initial are reported as "initial" by the caller.
func (v Op) TypeName() string {
	switch v {
	case OpInsert:
		return "add"
	case OpDelete:
		return "remove"
	default:
		return "change"
	}
}
