package testserver

import (
	"cmp"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/reql"
)

// systemDB is reserved; its root bucket holds the persisted catalog.
const (
	systemDB   = "rethinkdb"
	catalogKey = "catalog"
)

type dbInfo struct {
	ID   string `msgpack:"id"`
	Name string `msgpack:"name"`
}

type tableInfo struct {
	ID         string                `msgpack:"id"`
	DB         string                `msgpack:"db"`
	Name       string                `msgpack:"name"`
	PrimaryKey string                `msgpack:"primary_key"`
	Indexes    map[string]*indexInfo `msgpack:"indexes"`
}

type indexInfo struct {
	Name  string `msgpack:"name"`
	Func  []byte `msgpack:"func"` // wire form of the index function
	Multi bool   `msgpack:"multi"`

	fn reql.Term
}

func (t *tableInfo) indexNames() []string {
	return slices.Sorted(maps.Keys(t.Indexes))
}

// catalog lists databases and tables. It is only touched under Server.execMu.
type catalog struct {
	DBs    map[string]*dbInfo    `msgpack:"dbs"`
	Tables map[string]*tableInfo `msgpack:"tables"`
}

func newCatalog() *catalog {
	return &catalog{
		DBs:    map[string]*dbInfo{"test": {ID: uuid.NewString(), Name: "test"}},
		Tables: make(map[string]*tableInfo),
	}
}

func tableKey(db, table string) string {
	return db + "." + table
}

func (c *catalog) table(db, name string) *tableInfo {
	return c.Tables[tableKey(db, name)]
}

func (c *catalog) tablesOf(db string) []*tableInfo {
	var out []*tableInfo
	for _, t := range c.Tables {
		if t.DB == db {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *tableInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

func (c *catalog) dbNames() []string {
	return slices.Sorted(maps.Keys(c.DBs))
}

func (c *catalog) clone() *catalog {
	out := &catalog{DBs: maps.Clone(c.DBs), Tables: make(map[string]*tableInfo, len(c.Tables))}
	for k, t := range c.Tables {
		tc := *t
		tc.Indexes = maps.Clone(t.Indexes)
		out.Tables[k] = &tc
	}
	return out
}

func loadCatalog(tx storageTx) (*catalog, error) {
	b := tx.Bucket(systemDB, "")
	if b == nil {
		return newCatalog(), nil
	}
	raw := b.Get([]byte(catalogKey))
	if raw == nil {
		return newCatalog(), nil
	}
	var c catalog
	if err := msgpack.Unmarshal(raw, &c); err != nil {
		return nil, dataErrf(raw, err, "failed to decode catalog")
	}
	if c.DBs == nil {
		c.DBs = make(map[string]*dbInfo)
	}
	if c.Tables == nil {
		c.Tables = make(map[string]*tableInfo)
	}
	for _, t := range c.Tables {
		if t.Indexes == nil {
			t.Indexes = make(map[string]*indexInfo)
		}
		for _, idx := range t.Indexes {
			fn, err := reql.ParseTerm(idx.Func)
			if err != nil {
				return nil, tableErrf(t.DB, t.Name, err, "index %s", idx.Name)
			}
			idx.fn = fn
		}
	}
	return &c, nil
}

func saveCatalog(tx storageTx, c *catalog) error {
	b, err := tx.CreateBucket(systemDB, "")
	if err != nil {
		return err
	}
	raw, err := msgpack.Marshal(c)
	if err != nil {
		return err
	}
	return b.Put([]byte(catalogKey), raw)
}
