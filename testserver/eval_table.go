package testserver

import (
	"errors"
	"slices"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/andreyvit/reql"
)

func (e *evaluator) evalTable(t reql.Term) (any, bool, error) {
	var v any
	var err error
	switch t.Kind() {
	case reql.TermDB:
		var name string
		if name, err = e.argString(t, 0); err == nil {
			v, err = &dbVal{name: name}, validName("Database", name)
		}
	case reql.TermTable:
		v, err = e.evalTableTerm(t)
	case reql.TermGet:
		v, err = e.evalGet(t)
	case reql.TermGetAll:
		v, err = e.evalGetAll(t)
	case reql.TermBetween:
		v, err = e.evalBetween(t)
	case reql.TermDBCreate:
		v, err = e.dbCreate(t)
	case reql.TermDBDrop:
		v, err = e.dbDrop(t)
	case reql.TermDBList:
		arr := reql.Array{}
		for _, name := range e.cat.dbNames() {
			arr = append(arr, reql.String(name))
		}
		v = arr
	case reql.TermTableCreate:
		v, err = e.tableCreate(t)
	case reql.TermTableDrop:
		v, err = e.tableDrop(t)
	case reql.TermTableList:
		v, err = e.tableList(t)
	case reql.TermIndexCreate:
		v, err = e.indexCreate(t)
	case reql.TermIndexDrop:
		v, err = e.indexDrop(t)
	case reql.TermIndexList:
		var tv *tableVal
		if tv, err = e.argTable(t, 0); err == nil {
			arr := reql.Array{}
			for _, name := range tv.info.indexNames() {
				arr = append(arr, reql.String(name))
			}
			v = arr
		}
	case reql.TermIndexRename:
		v, err = e.indexRename(t)
	case reql.TermIndexStatus, reql.TermIndexWait:
		v, err = e.indexStatus(t)
	case reql.TermConfig:
		v, err = e.config(t)
	case reql.TermStatus:
		var tv *tableVal
		if tv, err = e.argTable(t, 0); err == nil {
			v = e.tableStatus(tv.info)
		}
	case reql.TermWait:
		v, err = e.waitReady(t)
	case reql.TermReconfigure:
		v, err = e.reconfigure(t)
	case reql.TermRebalance:
		if _, err = e.argTable(t, 0); err == nil {
			v = reql.Object{"rebalanced": reql.Number(1), "status_changes": reql.Array{}}
		}
	case reql.TermSync:
		if _, err = e.argTable(t, 0); err == nil {
			v = reql.Object{"synced": reql.Number(1)}
		}
	case reql.TermGrant:
		v, err = e.grant(t)
	default:
		return nil, false, nil
	}
	return v, true, err
}

func validName(what, name string) error {
	if name == "" {
		return logicErrf("%s name `` invalid (Use A-Z, a-z, 0-9, _ and - only).", what)
	}
	for _, c := range name {
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' || c == '_' || c == '-') {
			return logicErrf("%s name `%s` invalid (Use A-Z, a-z, 0-9, _ and - only).", what, name)
		}
	}
	return nil
}

// mutableCatalog returns a private copy of the catalog that is swapped in
// when the query commits.
func (e *evaluator) mutableCatalog() *catalog {
	if !e.catDirty {
		e.cat = e.cat.clone()
		e.catDirty = true
	}
	return e.cat
}

func (e *evaluator) dbNamed(name string) error {
	if name == systemDB {
		return nil
	}
	if _, ok := e.cat.DBs[name]; !ok {
		return opFailedErrf("Database `%s` does not exist.", name)
	}
	return nil
}

// argDB resolves an optional leading database argument, defaulting to the
// query's database.
func (e *evaluator) argDB(t reql.Term, n int) (string, int, error) {
	if len(t.Args()) < n {
		return e.db, 0, e.dbNamed(e.db)
	}
	v, err := e.arg(t, 0)
	if err != nil {
		return "", 0, err
	}
	db, ok := v.(*dbVal)
	if !ok {
		return "", 0, withFrame(logicErrf("Expected type DATABASE but found %s.", typeName(v)), 0)
	}
	return db.name, 1, withFrame(e.dbNamed(db.name), 0)
}

func (e *evaluator) lookupTable(db, name string) (*tableInfo, error) {
	if err := e.dbNamed(db); err != nil {
		return nil, err
	}
	info := e.cat.table(db, name)
	if info == nil {
		return nil, opFailedErrf("Table `%s.%s` does not exist.", db, name)
	}
	return info, nil
}

func (e *evaluator) evalTableTerm(t reql.Term) (any, error) {
	db, next, err := e.argDB(t, 2)
	if err != nil {
		return nil, err
	}
	name, err := e.argString(t, next)
	if err != nil {
		return nil, err
	}
	if rm, err := e.optString(t, "read_mode", "single"); err != nil {
		return nil, err
	} else if rm != "single" && rm != "majority" && rm != "outdated" {
		return nil, withFrame(logicErrf("Read mode `%s` unrecognized (options are \"majority\", \"single\", and \"outdated\").", rm), "read_mode")
	}
	info, err := e.lookupTable(db, name)
	if err != nil {
		return nil, err
	}
	return &tableVal{info: info}, nil
}

func (e *evaluator) argTable(t reql.Term, i int) (*tableVal, error) {
	v, err := e.arg(t, i)
	if err != nil {
		return nil, err
	}
	tv, ok := v.(*tableVal)
	if !ok {
		return nil, withFrame(logicErrf("Expected type TABLE but found %s.", typeName(v)), i)
	}
	return tv, nil
}

func (e *evaluator) bucket(info *tableInfo) storageBucket {
	return e.tx.Bucket(info.DB, info.Name)
}

func (e *evaluator) scanTable(info *tableInfo, r keyRange) (*seqVal, error) {
	seq := &seqVal{items: []reql.Datum{}, table: info, stream: true}
	b := e.bucket(info)
	if b == nil || r.empty() {
		return seq, nil
	}
	c := r.newCursor(b.Cursor(), e.s.log)
	for c.Next() {
		doc, err := decodeDoc(c.Value())
		if err != nil {
			return nil, tableErrf(info.DB, info.Name, err, "")
		}
		seq.items = append(seq.items, doc)
	}
	return seq, nil
}

func (e *evaluator) tableCount(info *tableInfo) (int, error) {
	b := e.bucket(info)
	if b == nil {
		return 0, nil
	}
	return b.KeyCount(), nil
}

func keyError(key reql.Datum, err error) error {
	switch key.(type) {
	case reql.Null, reql.Object:
		return logicErrf("Primary keys must be either a number, string, bool, pseudotype or array (got type %s):\n%s", key.TypeName(), printDatum(key))
	}
	return logicErrf("%v", err)
}

func (e *evaluator) getDoc(info *tableInfo, key reql.Datum) (reql.Datum, error) {
	pk, err := primaryKey(key)
	if err != nil {
		return nil, keyError(key, err)
	}
	b := e.bucket(info)
	if b == nil {
		return nil, nil
	}
	raw := b.Get(pk)
	if raw == nil {
		return nil, nil
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, tableErrf(info.DB, info.Name, err, "")
	}
	return doc, nil
}

func (e *evaluator) evalGet(t reql.Term) (any, error) {
	tv, err := e.argTable(t, 0)
	if err != nil {
		return nil, err
	}
	key, err := e.argDatum(t, 1)
	if err != nil {
		return nil, err
	}
	doc, err := e.getDoc(tv.info, key)
	if err != nil {
		return nil, withFrame(err, 1)
	}
	return &rowVal{table: tv.info, key: key, doc: doc}, nil
}

// indexFunc returns the function computing the values of an index. The
// primary key acts as an index too.
func (e *evaluator) indexFunc(info *tableInfo, name string) (*funcVal, error) {
	if name == info.PrimaryKey {
		return fieldFunc(name), nil
	}
	idx, ok := info.Indexes[name]
	if !ok {
		return nil, opFailedErrf("Index `%s` was not found on table `%s.%s`.", name, info.DB, info.Name)
	}
	return e.function(idx.fn)
}

// indexValues returns the keys a row has in an index: none when the function
// finds nothing, each element for multi indexes.
func (e *evaluator) indexValues(info *tableInfo, name string, row reql.Datum) ([]reql.Datum, error) {
	f, err := e.indexFunc(info, name)
	if err != nil {
		return nil, err
	}
	d, err := e.call(f, row)
	if isNonExistence(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if idx := info.Indexes[name]; idx != nil && idx.Multi {
		if arr, ok := d.(reql.Array); ok {
			return distinct(arr), nil
		}
	}
	return []reql.Datum{d}, nil
}

// lookup returns the rows whose index value equals one of keys.
func (e *evaluator) lookup(info *tableInfo, index string, keys []reql.Datum) ([]reql.Datum, error) {
	var out []reql.Datum
	if index == info.PrimaryKey {
		for _, k := range keys {
			doc, err := e.getDoc(info, k)
			if err != nil {
				return nil, err
			}
			if doc != nil {
				out = append(out, doc)
			}
		}
		return out, nil
	}
	seq, err := e.scanTable(info, rangeOO())
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		for _, row := range seq.items {
			vals, err := e.indexValues(info, index, row)
			if err != nil {
				return nil, err
			}
			if indexOf(vals, k) >= 0 {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

func (e *evaluator) evalGetAll(t reql.Term) (any, error) {
	tv, err := e.argTable(t, 0)
	if err != nil {
		return nil, err
	}
	index, err := e.optString(t, "index", tv.info.PrimaryKey)
	if err != nil {
		return nil, err
	}
	var keys []reql.Datum
	for i := 1; i < len(t.Args()); i++ {
		k, err := e.argDatum(t, i)
		if err != nil {
			return nil, err
		}
		if indexOf(keys, k) < 0 {
			keys = append(keys, k)
		}
	}
	rows, err := e.lookup(tv.info, index, keys)
	if err != nil {
		return nil, err
	}
	return &seqVal{items: append([]reql.Datum{}, rows...), table: tv.info, stream: true}, nil
}

func (e *evaluator) evalBetween(t reql.Term) (any, error) {
	tv, err := e.argTable(t, 0)
	if err != nil {
		return nil, err
	}
	lower, err := e.argDatum(t, 1)
	if err != nil {
		return nil, err
	}
	upper, err := e.argDatum(t, 2)
	if err != nil {
		return nil, err
	}
	index, err := e.optString(t, "index", tv.info.PrimaryKey)
	if err != nil {
		return nil, err
	}
	leftBound, err := e.optString(t, "left_bound", "closed")
	if err != nil {
		return nil, err
	}
	rightBound, err := e.optString(t, "right_bound", "open")
	if err != nil {
		return nil, err
	}
	lowerClosed, upperClosed := leftBound == "closed", rightBound == "closed"

	if index == tv.info.PrimaryKey {
		var lk, uk []byte
		if !isBound(lower, reql.PseudoMinVal) {
			if lk, err = encodeKey(nil, lower); err != nil {
				return nil, withFrame(keyError(lower, err), 1)
			}
		}
		if !isBound(upper, reql.PseudoMaxVal) {
			if uk, err = encodeKey(nil, upper); err != nil {
				return nil, withFrame(keyError(upper, err), 2)
			}
		}
		return e.scanTable(tv.info, boundRange(lk, uk, lowerClosed, upperClosed))
	}

	if _, err := e.indexFunc(tv.info, index); err != nil {
		return nil, withFrame(err, "index")
	}
	all, err := e.scanTable(tv.info, rangeOO())
	if err != nil {
		return nil, err
	}
	inRange := func(v reql.Datum) bool {
		if !isBound(lower, reql.PseudoMinVal) {
			c := reql.Compare(v, lower)
			if c < 0 || (c == 0 && !lowerClosed) {
				return false
			}
		}
		if !isBound(upper, reql.PseudoMaxVal) {
			c := reql.Compare(v, upper)
			if c > 0 || (c == 0 && !upperClosed) {
				return false
			}
		}
		return true
	}
	type hit struct {
		key reql.Datum
		row reql.Datum
	}
	var hits []hit
	for _, row := range all.items {
		vals, err := e.indexValues(tv.info, index, row)
		if err != nil {
			return nil, withFrame(err, "index")
		}
		for _, v := range vals {
			if inRange(v) {
				hits = append(hits, hit{v, row})
				break
			}
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return reql.Compare(a.key, b.key) })
	out := &seqVal{items: make([]reql.Datum, len(hits)), table: tv.info, stream: true}
	for i, h := range hits {
		out.items[i] = h.row
	}
	return out, nil
}

func (e *evaluator) dbCreate(t reql.Term) (any, error) {
	name, err := e.argString(t, 0)
	if err != nil {
		return nil, err
	}
	if err := validName("Database", name); err != nil {
		return nil, withFrame(err, 0)
	}
	if name == systemDB {
		return nil, opFailedErrf("Database `%s` already exists.", name)
	}
	if _, ok := e.cat.DBs[name]; ok {
		return nil, opFailedErrf("Database `%s` already exists.", name)
	}
	if _, err := e.tx.CreateBucket(name, ""); err != nil {
		return nil, err
	}
	info := &dbInfo{ID: uuid.NewString(), Name: name}
	e.mutableCatalog().DBs[name] = info
	return reql.Object{
		"dbs_created":    reql.Number(1),
		"config_changes": reql.Array{reql.Object{"old_val": reql.NullDatum, "new_val": dbConfig(info)}},
	}, nil
}

func dbConfig(info *dbInfo) reql.Object {
	return reql.Object{"id": reql.String(info.ID), "name": reql.String(info.Name)}
}

func (e *evaluator) dbDrop(t reql.Term) (any, error) {
	name, err := e.argString(t, 0)
	if err != nil {
		return nil, err
	}
	info, ok := e.cat.DBs[name]
	if !ok {
		return nil, opFailedErrf("Database `%s` does not exist.", name)
	}
	tables := e.cat.tablesOf(name)
	if err := e.tx.DeleteBucket(name, ""); err != nil && !errors.Is(err, errBucketNotFound) {
		return nil, err
	}
	cat := e.mutableCatalog()
	delete(cat.DBs, name)
	for _, tbl := range tables {
		delete(cat.Tables, tableKey(tbl.DB, tbl.Name))
		e.dropped = append(e.dropped, tbl)
	}
	return reql.Object{
		"dbs_dropped":    reql.Number(1),
		"tables_dropped": reql.Number(len(tables)),
		"config_changes": reql.Array{reql.Object{"old_val": dbConfig(info), "new_val": reql.NullDatum}},
	}, nil
}

func (e *evaluator) tableConfig(info *tableInfo) reql.Object {
	indexes := reql.Array{}
	for _, name := range info.indexNames() {
		indexes = append(indexes, reql.String(name))
	}
	return reql.Object{
		"id":          reql.String(info.ID),
		"name":        reql.String(info.Name),
		"db":          reql.String(info.DB),
		"primary_key": reql.String(info.PrimaryKey),
		"indexes":     indexes,
		"shards": reql.Array{reql.Object{
			"primary_replica":    reql.String(e.s.name),
			"replicas":           reql.Array{reql.String(e.s.name)},
			"nonvoting_replicas": reql.Array{},
		}},
		"write_acks": reql.String("majority"),
		"durability": reql.String("hard"),
	}
}

func (e *evaluator) tableStatus(info *tableInfo) reql.Object {
	return reql.Object{
		"id":   reql.String(info.ID),
		"name": reql.String(info.Name),
		"db":   reql.String(info.DB),
		"status": reql.Object{
			"all_replicas_ready":       reql.Bool(true),
			"ready_for_outdated_reads": reql.Bool(true),
			"ready_for_reads":          reql.Bool(true),
			"ready_for_writes":         reql.Bool(true),
		},
		"shards": reql.Array{reql.Object{
			"primary_replicas": reql.Array{reql.String(e.s.name)},
			"replicas":         reql.Array{reql.Object{"server": reql.String(e.s.name), "state": reql.String("ready")}},
		}},
		"raft_leader": reql.String(e.s.name),
	}
}

func (e *evaluator) tableCreate(t reql.Term) (any, error) {
	db, next, err := e.argDB(t, 2)
	if err != nil {
		return nil, err
	}
	name, err := e.argString(t, next)
	if err != nil {
		return nil, err
	}
	if err := validName("Table", name); err != nil {
		return nil, withFrame(err, next)
	}
	pk, err := e.optString(t, "primary_key", "id")
	if err != nil {
		return nil, err
	}
	if db == systemDB {
		return nil, opFailedErrf("Database `%s` is special; you can't create new tables in it.", db)
	}
	if e.cat.table(db, name) != nil {
		return nil, opFailedErrf("Table `%s.%s` already exists.", db, name)
	}
	if _, err := e.tx.CreateBucket(db, name); err != nil {
		return nil, tableErrf(db, name, err, "create")
	}
	info := &tableInfo{ID: uuid.NewString(), DB: db, Name: name, PrimaryKey: pk, Indexes: make(map[string]*indexInfo)}
	e.mutableCatalog().Tables[tableKey(db, name)] = info
	return reql.Object{
		"tables_created": reql.Number(1),
		"config_changes": reql.Array{reql.Object{"old_val": reql.NullDatum, "new_val": e.tableConfig(info)}},
	}, nil
}

func (e *evaluator) tableDrop(t reql.Term) (any, error) {
	db, next, err := e.argDB(t, 2)
	if err != nil {
		return nil, err
	}
	name, err := e.argString(t, next)
	if err != nil {
		return nil, err
	}
	info, err := e.lookupTable(db, name)
	if err != nil {
		return nil, err
	}
	cfg := e.tableConfig(info)
	if err := e.tx.DeleteBucket(db, name); err != nil && !errors.Is(err, errBucketNotFound) {
		return nil, tableErrf(db, name, err, "drop")
	}
	delete(e.mutableCatalog().Tables, tableKey(db, name))
	e.dropped = append(e.dropped, info)
	return reql.Object{
		"tables_dropped": reql.Number(1),
		"config_changes": reql.Array{reql.Object{"old_val": cfg, "new_val": reql.NullDatum}},
	}, nil
}

func (e *evaluator) tableList(t reql.Term) (any, error) {
	db, _, err := e.argDB(t, 1)
	if err != nil {
		return nil, err
	}
	arr := reql.Array{}
	for _, info := range e.cat.tablesOf(db) {
		arr = append(arr, reql.String(info.Name))
	}
	return arr, nil
}

// mutableTable returns the private catalog copy of a table for DDL.
func (e *evaluator) mutableTable(info *tableInfo) *tableInfo {
	return e.mutableCatalog().table(info.DB, info.Name)
}

func (e *evaluator) indexCreate(t reql.Term) (any, error) {
	tv, err := e.argTable(t, 0)
	if err != nil {
		return nil, err
	}
	name, err := e.argString(t, 1)
	if err != nil {
		return nil, err
	}
	if err := validName("Index", name); err != nil {
		return nil, withFrame(err, 1)
	}
	multi, err := e.optBool(t, "multi", false)
	if err != nil {
		return nil, err
	}
	if geo, err := e.optBool(t, "geo", false); err != nil {
		return nil, err
	} else if geo {
		return nil, withFrame(logicErrf("Geospatial indexes are not supported by this server."), "geo")
	}
	if name == tv.info.PrimaryKey {
		return nil, opFailedErrf("Index name conflict: `%s` is the name of the primary key.", name)
	}
	if _, ok := tv.info.Indexes[name]; ok {
		return nil, opFailedErrf("Index `%s` already exists on table `%s.%s`.", name, tv.info.DB, tv.info.Name)
	}

	var fn reql.Term
	if len(t.Args()) > 2 {
		fn = t.Args()[2]
		if fn.Kind() != reql.TermFunc {
			return nil, withFrame(logicErrf("Expected type FUNCTION but found %s.", fn.Kind()), 2)
		}
	} else {
		fn = reql.Func1(func(row reql.Term) reql.Term { return row.Bracket(name) })
	}
	wire, err := reql.Build(fn)
	if err != nil {
		return nil, withFrame(compileErrf("%v", err), 2)
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	parsed, err := reql.ParseTerm(raw)
	if err != nil {
		return nil, withFrame(compileErrf("%v", err), 2)
	}
	info := e.mutableTable(tv.info)
	info.Indexes[name] = &indexInfo{Name: name, Func: raw, Multi: multi, fn: parsed}
	return reql.Object{"created": reql.Number(1)}, nil
}

func (e *evaluator) indexDrop(t reql.Term) (any, error) {
	tv, err := e.argTable(t, 0)
	if err != nil {
		return nil, err
	}
	name, err := e.argString(t, 1)
	if err != nil {
		return nil, err
	}
	if _, ok := tv.info.Indexes[name]; !ok {
		return nil, opFailedErrf("Index `%s` does not exist on table `%s.%s`.", name, tv.info.DB, tv.info.Name)
	}
	delete(e.mutableTable(tv.info).Indexes, name)
	return reql.Object{"dropped": reql.Number(1)}, nil
}

func (e *evaluator) indexRename(t reql.Term) (any, error) {
	tv, err := e.argTable(t, 0)
	if err != nil {
		return nil, err
	}
	from, err := e.argString(t, 1)
	if err != nil {
		return nil, err
	}
	to, err := e.argString(t, 2)
	if err != nil {
		return nil, err
	}
	overwrite, err := e.optBool(t, "overwrite", false)
	if err != nil {
		return nil, err
	}
	idx, ok := tv.info.Indexes[from]
	if !ok {
		return nil, opFailedErrf("Index `%s` does not exist on table `%s.%s`.", from, tv.info.DB, tv.info.Name)
	}
	if from == to {
		return reql.Object{"renamed": reql.Number(0)}, nil
	}
	if _, exists := tv.info.Indexes[to]; exists && !overwrite {
		return nil, opFailedErrf("Index `%s` already exists on table `%s.%s`.", to, tv.info.DB, tv.info.Name)
	}
	info := e.mutableTable(tv.info)
	delete(info.Indexes, from)
	renamed := *idx
	renamed.Name = to
	info.Indexes[to] = &renamed
	return reql.Object{"renamed": reql.Number(1)}, nil
}

func (e *evaluator) indexStatus(t reql.Term) (any, error) {
	tv, err := e.argTable(t, 0)
	if err != nil {
		return nil, err
	}
	names := tv.info.indexNames()
	if len(t.Args()) > 1 {
		names = names[:0:0]
		for i := 1; i < len(t.Args()); i++ {
			name, err := e.argString(t, i)
			if err != nil {
				return nil, err
			}
			if _, ok := tv.info.Indexes[name]; !ok {
				return nil, opFailedErrf("Index `%s` was not found on table `%s.%s`.", name, tv.info.DB, tv.info.Name)
			}
			names = append(names, name)
		}
	}
	out := reql.Array{}
	for _, name := range names {
		idx := tv.info.Indexes[name]
		out = append(out, reql.Object{
			"index":    reql.String(name),
			"ready":    reql.Bool(true),
			"multi":    reql.Bool(idx.Multi),
			"geo":      reql.Bool(false),
			"outdated": reql.Bool(false),
			"function": reql.Binary(idx.Func),
			"query":    reql.String(idx.fn.String()),
		})
	}
	return out, nil
}

func (e *evaluator) config(t reql.Term) (any, error) {
	v, err := e.arg(t, 0)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case *tableVal:
		return e.tableConfig(v.info), nil
	case *dbVal:
		info, ok := e.cat.DBs[v.name]
		if !ok {
			return nil, opFailedErrf("Database `%s` does not exist.", v.name)
		}
		return dbConfig(info), nil
	default:
		return nil, withFrame(logicErrf("Expected type TABLE or DATABASE but found %s.", typeName(v)), 0)
	}
}

func (e *evaluator) waitReady(t reql.Term) (any, error) {
	n := 0
	if len(t.Args()) == 0 {
		n = len(e.cat.tablesOf(e.db))
	} else {
		v, err := e.arg(t, 0)
		if err != nil {
			return nil, err
		}
		switch v := v.(type) {
		case *tableVal:
			n = 1
		case *dbVal:
			if err := e.dbNamed(v.name); err != nil {
				return nil, withFrame(err, 0)
			}
			n = len(e.cat.tablesOf(v.name))
		default:
			return nil, withFrame(logicErrf("Expected type TABLE or DATABASE but found %s.", typeName(v)), 0)
		}
	}
	return reql.Object{"ready": reql.Number(n)}, nil
}

func (e *evaluator) reconfigure(t reql.Term) (any, error) {
	tv, err := e.argTable(t, 0)
	if err != nil {
		return nil, err
	}
	shards, err := e.optDatum(t, "shards")
	if err != nil {
		return nil, err
	}
	if n, ok := shards.(reql.Number); shards != nil && (!ok || n != 1) {
		return nil, withFrame(opFailedErrf("This server only supports a single shard."), "shards")
	}
	dryRun, err := e.optBool(t, "dry_run", false)
	if err != nil {
		return nil, err
	}
	cfg := e.tableConfig(tv.info)
	n := 1
	if dryRun {
		n = 0
	}
	return reql.Object{
		"reconfigured":   reql.Number(n),
		"config_changes": reql.Array{reql.Object{"old_val": cfg, "new_val": cfg}},
		"status_changes": reql.Array{reql.Object{"old_val": e.tableStatus(tv.info), "new_val": e.tableStatus(tv.info)}},
	}, nil
}

func (e *evaluator) grant(t reql.Term) (any, error) {
	user, err := e.argString(t, len(t.Args())-2)
	if err != nil {
		return nil, err
	}
	perms, err := e.argDatum(t, len(t.Args())-1)
	if err != nil {
		return nil, err
	}
	if _, ok := perms.(reql.Object); !ok {
		return nil, logicErrf("Expected type OBJECT but found %s.", perms.TypeName())
	}
	if !e.s.hasUser(user) {
		return nil, opFailedErrf("User `%s` not found.", user)
	}
	return reql.Object{
		"granted":             reql.Number(1),
		"permissions_changes": reql.Array{reql.Object{"old_val": reql.NullDatum, "new_val": perms}},
	}, nil
}
