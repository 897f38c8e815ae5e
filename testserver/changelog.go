package testserver

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/reql"
)

// The changelog is an append-only file of committed writes. Each record is
//
//	uvarint(len(payload)) | payload | xxhash64(size header + payload)
//
// where payload is a msgpack-encoded changelogRecord. Readers stop at the
// first truncated or corrupted record; an appender truncates the file there
// before writing more.

var errCorruptedRecord = errors.New("corrupted changelog record")

const maxChangelogRecord = 64 << 20

type changelogRecord struct {
	Time    int64            `msgpack:"t"`
	Entries []changelogEntry `msgpack:"e"`
}

type changelogEntry struct {
	DB    string `msgpack:"db"`
	Table string `msgpack:"tbl"`
	Old   []byte `msgpack:"old,omitempty"`
	New   []byte `msgpack:"new,omitempty"`
}

// LoggedWrite is one document write read back from a changelog.
type LoggedWrite struct {
	DB    string
	Table string
	Old   reql.Datum // nil for an insert
	New   reql.Datum // nil for a delete
}

// LoggedCommit holds the writes of one committed query.
type LoggedCommit struct {
	Time   time.Time
	Writes []LoggedWrite
}

type changelog struct {
	mu  sync.Mutex
	f   *os.File
	buf []byte
	err error
}

func openChangelog(path string) (*changelog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("testserver: changelog: %w", err)
	}
	good, err := scanChangelog(bufio.NewReader(f), nil)
	if err != nil && !errors.Is(err, errCorruptedRecord) {
		f.Close()
		return nil, fmt.Errorf("testserver: changelog %s: %w", path, err)
	}
	if err := f.Truncate(good); err != nil {
		f.Close()
		return nil, fmt.Errorf("testserver: changelog %s: %w", path, err)
	}
	if _, err := f.Seek(good, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("testserver: changelog %s: %w", path, err)
	}
	return &changelog{f: f}, nil
}

// append writes one record for a committed batch of changes. After the first
// failure every later call returns the same error.
func (cl *changelog) append(now time.Time, changes []pendingChange) error {
	if len(changes) == 0 {
		return nil
	}
	rec := changelogRecord{Time: now.UnixNano(), Entries: make([]changelogEntry, 0, len(changes))}
	for _, pc := range changes {
		if pc.chg.IsNoop() {
			continue
		}
		ent := changelogEntry{DB: pc.table.DB, Table: pc.table.Name}
		var err error
		if pc.chg.Old != nil {
			if ent.Old, err = encodeDoc(nil, pc.chg.Old); err != nil {
				return err
			}
		}
		if pc.chg.New != nil {
			if ent.New, err = encodeDoc(nil, pc.chg.New); err != nil {
				return err
			}
		}
		rec.Entries = append(rec.Entries, ent)
	}
	if len(rec.Entries) == 0 {
		return nil
	}
	payload, err := msgpack.Marshal(&rec)
	if err != nil {
		return err
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.err != nil {
		return cl.err
	}
	b := binary.AppendUvarint(cl.buf[:0], uint64(len(payload)))
	b = append(b, payload...)
	b = binary.LittleEndian.AppendUint64(b, xxhash.Sum64(b))
	cl.buf = b
	if _, err := cl.f.Write(b); err != nil {
		cl.err = fmt.Errorf("testserver: changelog: %w", err)
		return cl.err
	}
	return nil
}

func (cl *changelog) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.f == nil {
		return nil
	}
	err := cl.f.Close()
	cl.f = nil
	return err
}

// scanChangelog calls fn for every intact record and returns the offset just
// past the last one.
func scanChangelog(r io.ByteReader, fn func(rec *changelogRecord) error) (int64, error) {
	var off int64
	var hdr [binary.MaxVarintLen64]byte
	for {
		size, err := binary.ReadUvarint(r)
		if err == io.EOF {
			return off, nil
		} else if err != nil {
			return off, errCorruptedRecord
		}
		if size > maxChangelogRecord {
			return off, errCorruptedRecord
		}
		h := binary.PutUvarint(hdr[:], size)
		body := make([]byte, int(size)+8)
		for i := range body {
			c, err := r.ReadByte()
			if err != nil {
				return off, errCorruptedRecord
			}
			body[i] = c
		}
		var d xxhash.Digest
		d.Reset()
		d.Write(hdr[:h])
		d.Write(body[:size])
		if d.Sum64() != binary.LittleEndian.Uint64(body[size:]) {
			return off, errCorruptedRecord
		}
		if fn != nil {
			var rec changelogRecord
			if err := msgpack.Unmarshal(body[:size], &rec); err != nil {
				return off, errCorruptedRecord
			}
			if err := fn(&rec); err != nil {
				return off, err
			}
		}
		off += int64(h) + int64(size) + 8
	}
}

// ReadChangelog returns every intact commit recorded in the changelog at
// path. A torn tail is ignored.
func ReadChangelog(path string) ([]LoggedCommit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var commits []LoggedCommit
	_, err = scanChangelog(bufio.NewReader(f), func(rec *changelogRecord) error {
		lc := LoggedCommit{Time: time.Unix(0, rec.Time), Writes: make([]LoggedWrite, 0, len(rec.Entries))}
		for _, ent := range rec.Entries {
			w := LoggedWrite{DB: ent.DB, Table: ent.Table}
			var err error
			if ent.Old != nil {
				if w.Old, err = decodeDoc(ent.Old); err != nil {
					return err
				}
			}
			if ent.New != nil {
				if w.New, err = decodeDoc(ent.New); err != nil {
					return err
				}
			}
			lc.Writes = append(lc.Writes, w)
		}
		commits = append(commits, lc)
		return nil
	})
	if err != nil && !errors.Is(err, errCorruptedRecord) {
		return commits, err
	}
	return commits, nil
}
