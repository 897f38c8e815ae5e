package reql

import "reflect"

// RunOpts are the global optional arguments of a query. Nil and empty fields
// are not sent, and the server applies its defaults:
// min_batch_rows 8, max_batch_rows unlimited, max_batch_bytes 1MB,
// max_batch_seconds 0.5, first_batch_scaledown_factor 4, array_limit 100000.
type RunOpts struct {
	// DB overrides the connection's default database.
	DB         string `reql:"db,omitempty"`
	ReadMode   string `reql:"read_mode,omitempty"`
	Durability string `reql:"durability,omitempty"`

	TimeFormat   Format `reql:"time_format,omitempty"`
	GroupFormat  Format `reql:"group_format,omitempty"`
	BinaryFormat Format `reql:"binary_format,omitempty"`

	ArrayLimit *int  `reql:"array_limit,omitempty"`
	Profile    *bool `reql:"profile,omitempty"`

	// NoReply sends the query without waiting for any response. Use
	// Connection.NoReplyWait to wait for such queries to complete.
	NoReply *bool `reql:"noreply,omitempty"`

	MinBatchRows              *int     `reql:"min_batch_rows,omitempty"`
	MaxBatchRows              *int     `reql:"max_batch_rows,omitempty"`
	MaxBatchBytes             *int     `reql:"max_batch_bytes,omitempty"`
	MaxBatchSeconds           *float64 `reql:"max_batch_seconds,omitempty"`
	FirstBatchScaledownFactor *int     `reql:"first_batch_scaledown_factor,omitempty"`
}

func (o RunOpts) noReply() bool {
	return o.NoReply != nil && *o.NoReply
}

// Merge returns o with every field set in over taking precedence. A non-nil
// pointer counts as set even when it points to a zero value.
func (o RunOpts) Merge(over RunOpts) RunOpts {
	out := o
	dst := reflect.ValueOf(&out).Elem()
	src := reflect.ValueOf(over)
	for i := 0; i < src.NumField(); i++ {
		if f := src.Field(i); !f.IsZero() {
			dst.Field(i).Set(f)
		}
	}
	return out
}

func (o RunOpts) formats() formats {
	f := nativeFormats
	if o.TimeFormat != "" {
		f.time = o.TimeFormat
	}
	if o.GroupFormat != "" {
		f.group = o.GroupFormat
	}
	if o.BinaryFormat != "" {
		f.binary = o.BinaryFormat
	}
	return f
}

// globalOptArgs converts the options into the third element of a START query.
// The database becomes a DB term.
func (o RunOpts) globalOptArgs(defaultDB string) (map[string]any, error) {
	m, err := structOptArgs(o)
	if err != nil {
		return nil, err
	}
	db := o.DB
	if db == "" {
		db = defaultDB
	}
	delete(m, "db")
	if db != "" {
		v, err := Build(DB(db))
		if err != nil {
			return nil, err
		}
		m["db"] = v
	}
	return m, nil
}
