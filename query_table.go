package reql

// Database and table administration.

func DB(name any) Term            { return mk(TermDB, name) }
func DBCreate(name any) Term      { return mk(TermDBCreate, name) }
func DBDrop(name any) Term        { return mk(TermDBDrop, name) }
func DBList() Term                { return mk(TermDBList) }
func TableList() Term             { return mk(TermTableList) }
func TableDrop(name any) Term     { return mk(TermTableDrop, name) }
func Grant(user, perms any) Term  { return mk(TermGrant, user, perms) }
func Wait(opts ...Optional) Term  { return mkOpts(TermWait, opts) }

// Table selects a table of the connection's default database.
func Table(name any, opts ...Optional) Term {
	return mkOpts(TermTable, opts, name)
}

func TableCreate(name any, opts ...Optional) Term {
	return mkOpts(TermTableCreate, opts, name)
}

func (t Term) Table(name any, opts ...Optional) Term {
	return mkOpts(TermTable, opts, t, name)
}

func (t Term) TableCreate(name any, opts ...Optional) Term {
	return mkOpts(TermTableCreate, opts, t, name)
}

func (t Term) TableDrop(name any) Term { return mk(TermTableDrop, t, name) }
func (t Term) TableList() Term         { return mk(TermTableList, t) }

// IndexCreate creates a secondary index. Without a function the index uses the
// field of the same name. args may hold a function or Row expression computing
// the index value, and IndexCreateOpts.
func (t Term) IndexCreate(name any, args ...any) Term {
	return mkf(TermIndexCreate, 2, append([]any{t, name}, args...)...)
}

func (t Term) IndexDrop(name any) Term { return mk(TermIndexDrop, t, name) }
func (t Term) IndexList() Term         { return mk(TermIndexList, t) }

func (t Term) IndexRename(oldName, newName any, opts ...Optional) Term {
	return mkOpts(TermIndexRename, opts, t, oldName, newName)
}

// IndexStatus reports on the named indexes, or all of them.
func (t Term) IndexStatus(names ...any) Term {
	return mk(TermIndexStatus, append([]any{t}, names...)...)
}

func (t Term) IndexWait(names ...any) Term {
	return mk(TermIndexWait, append([]any{t}, names...)...)
}

func (t Term) Config() Term                      { return mk(TermConfig, t) }
func (t Term) Status() Term                      { return mk(TermStatus, t) }
func (t Term) Rebalance() Term                   { return mk(TermRebalance, t) }
func (t Term) Sync() Term                        { return mk(TermSync, t) }
func (t Term) Info() Term                        { return mk(TermInfo, t) }
func (t Term) Grant(user, perms any) Term        { return mk(TermGrant, t, user, perms) }
func (t Term) Wait(opts ...Optional) Term        { return mkOpts(TermWait, opts, t) }
func (t Term) Reconfigure(opts ...Optional) Term { return mkOpts(TermReconfigure, opts, t) }

func IndexCreate(table Term, name any, args ...any) Term { return table.IndexCreate(name, args...) }
func IndexDrop(table Term, name any) Term                { return table.IndexDrop(name) }
func IndexList(table Term) Term                          { return table.IndexList() }
func IndexStatus(table Term, names ...any) Term          { return table.IndexStatus(names...) }
func IndexWait(table Term, names ...any) Term            { return table.IndexWait(names...) }
func Config(t Term) Term                                 { return t.Config() }
func Status(t Term) Term                                 { return t.Status() }
func Rebalance(t Term) Term                              { return t.Rebalance() }
func Sync(table Term) Term                               { return table.Sync() }
func Info(t Term) Term                                   { return t.Info() }
func Reconfigure(t Term, opts ...Optional) Term          { return t.Reconfigure(opts...) }

func IndexRename(table Term, oldName, newName any, opts ...Optional) Term {
	return table.IndexRename(oldName, newName, opts...)
}
