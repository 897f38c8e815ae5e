package reql

import (
	"fmt"
	"reflect"
)

// Optional supplies optional arguments to a command. It is implemented by
// OptArgs and by the typed *Opts structs. Builders taking ...any accept
// Optional values anywhere among their arguments.
type Optional interface {
	optArgs() (map[string]any, error)
}

// OptArgs passes optional arguments by name. Names are checked against the
// command's allow-list when the Term is built.
type OptArgs map[string]any

func (o OptArgs) optArgs() (map[string]any, error) { return o, nil }

// Optional arguments whose values are functions.
var funcOptArgs = map[string]bool{"emit": true, "final_emit": true}

func optArgTerms(opts []Optional) (map[string]Term, error) {
	if len(opts) == 0 {
		return nil, nil
	}
	out := make(map[string]Term)
	for _, o := range opts {
		if o == nil {
			continue
		}
		m, err := o.optArgs()
		if err != nil {
			return nil, err
		}
		for k, v := range m {
			if funcOptArgs[k] {
				out[k] = funcWrap(v)
			} else {
				out[k] = Expr(v)
			}
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// structOptArgs reads the reql tags of a typed options struct.
func structOptArgs(v any) (map[string]any, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("options must be a struct, got %T", v)
	}
	rt := rv.Type()
	m := make(map[string]any)
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		tag, ok := sf.Tag.Lookup("reql")
		if !ok || !sf.IsExported() {
			continue
		}
		name, omitEmpty, skip := fieldName(sf)
		if skip {
			continue
		}
		if name == "" {
			return nil, fmt.Errorf("%v.%s: empty reql tag %q", rt, sf.Name, tag)
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		if fv.Kind() == reflect.Pointer && !fv.IsNil() {
			fv = fv.Elem()
		}
		m[name] = fv.Interface()
	}
	return m, nil
}

type TableOpts struct {
	ReadMode         string `reql:"read_mode,omitempty"`
	IdentifierFormat string `reql:"identifier_format,omitempty"`
}

func (o TableOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type TableCreateOpts struct {
	PrimaryKey           string   `reql:"primary_key,omitempty"`
	Durability           string   `reql:"durability,omitempty"`
	Shards               int      `reql:"shards,omitempty"`
	Replicas             any      `reql:"replicas,omitempty"`
	PrimaryReplicaTag    string   `reql:"primary_replica_tag,omitempty"`
	NonvotingReplicaTags []string `reql:"nonvoting_replica_tags,omitempty"`
}

func (o TableCreateOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type IndexCreateOpts struct {
	Multi bool `reql:"multi,omitempty"`
	Geo   bool `reql:"geo,omitempty"`
}

func (o IndexCreateOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type IndexRenameOpts struct {
	Overwrite bool `reql:"overwrite,omitempty"`
}

func (o IndexRenameOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type ReconfigureOpts struct {
	Shards               int      `reql:"shards,omitempty"`
	Replicas             any      `reql:"replicas,omitempty"`
	PrimaryReplicaTag    string   `reql:"primary_replica_tag,omitempty"`
	NonvotingReplicaTags []string `reql:"nonvoting_replica_tags,omitempty"`
	DryRun               bool     `reql:"dry_run,omitempty"`
	EmergencyRepair      string   `reql:"emergency_repair,omitempty"`
}

func (o ReconfigureOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type WaitOpts struct {
	WaitFor string  `reql:"wait_for,omitempty"`
	Timeout float64 `reql:"timeout,omitempty"`
}

func (o WaitOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

// InsertOpts configures Insert. Conflict is "error", "replace", "update", or a
// function of (id, oldDoc, newDoc).
type InsertOpts struct {
	Durability      string `reql:"durability,omitempty"`
	ReturnChanges   any    `reql:"return_changes,omitempty"`
	Conflict        any    `reql:"conflict,omitempty"`
	IgnoreWriteHook bool   `reql:"ignore_write_hook,omitempty"`
}

func (o InsertOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

// UpdateOpts configures Update and Replace.
type UpdateOpts struct {
	Durability      string `reql:"durability,omitempty"`
	ReturnChanges   any    `reql:"return_changes,omitempty"`
	NonAtomic       bool   `reql:"non_atomic,omitempty"`
	IgnoreWriteHook bool   `reql:"ignore_write_hook,omitempty"`
}

func (o UpdateOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type DeleteOpts struct {
	Durability      string `reql:"durability,omitempty"`
	ReturnChanges   any    `reql:"return_changes,omitempty"`
	IgnoreWriteHook bool   `reql:"ignore_write_hook,omitempty"`
}

func (o DeleteOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

// BetweenOpts bounds default to closed on the left and open on the right.
type BetweenOpts struct {
	Index      string `reql:"index,omitempty"`
	LeftBound  string `reql:"left_bound,omitempty"`
	RightBound string `reql:"right_bound,omitempty"`
}

func (o BetweenOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

// FilterOpts.Default decides what happens to rows on which the predicate hits
// a non-existence error: false (the default) skips them, true keeps them, and
// Error() makes the error propagate.
type FilterOpts struct {
	Default any `reql:"default,omitempty"`
}

func (o FilterOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

// ChangesOpts.Squash is false, true, or a number of seconds.
type ChangesOpts struct {
	Squash              any  `reql:"squash,omitempty"`
	ChangefeedQueueSize int  `reql:"changefeed_queue_size,omitempty"`
	IncludeInitial      bool `reql:"include_initial,omitempty"`
	IncludeStates       bool `reql:"include_states,omitempty"`
	IncludeOffsets      bool `reql:"include_offsets,omitempty"`
	IncludeTypes        bool `reql:"include_types,omitempty"`
}

func (o ChangesOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type OrderByOpts struct {
	Index any `reql:"index,omitempty"`
}

func (o OrderByOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type GetAllOpts struct {
	Index string `reql:"index,omitempty"`
}

func (o GetAllOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type EqJoinOpts struct {
	Index   string `reql:"index,omitempty"`
	Ordered bool   `reql:"ordered,omitempty"`
}

func (o EqJoinOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type SliceOpts struct {
	LeftBound  string `reql:"left_bound,omitempty"`
	RightBound string `reql:"right_bound,omitempty"`
}

func (o SliceOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type DuringOpts struct {
	LeftBound  string `reql:"left_bound,omitempty"`
	RightBound string `reql:"right_bound,omitempty"`
}

func (o DuringOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type UnionOpts struct {
	Interleave any `reql:"interleave,omitempty"`
}

func (o UnionOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type FoldOpts struct {
	Emit      any `reql:"emit,omitempty"`
	FinalEmit any `reql:"final_emit,omitempty"`
}

func (o FoldOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type GroupOpts struct {
	Index string `reql:"index,omitempty"`
	Multi bool   `reql:"multi,omitempty"`
}

func (o GroupOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type DistinctOpts struct {
	Index string `reql:"index,omitempty"`
}

func (o DistinctOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type RandomOpts struct {
	Float bool `reql:"float,omitempty"`
}

func (o RandomOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type ISO8601Opts struct {
	DefaultTimezone string `reql:"default_timezone,omitempty"`
}

func (o ISO8601Opts) optArgs() (map[string]any, error) { return structOptArgs(o) }

type JSOpts struct {
	Timeout float64 `reql:"timeout,omitempty"`
}

func (o JSOpts) optArgs() (map[string]any, error) { return structOptArgs(o) }
