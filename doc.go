/*
Package reql implements a client for ReQL, the query language of RethinkDB-style
distributed document databases.

The package has three layers:

1. Query construction. A query is an immutable tree of Terms. Terms are built
either by chaining (Table("users").Filter(...)) or by the equivalent free
functions (Filter(Table("users"), ...)); both produce the same tree.

2. Connection and execution. Connect performs the versioned handshake, after which
a single Connection multiplexes any number of concurrent queries, each identified
by a token.

3. Cursors. Queries producing streams return a Cursor that pulls batches from the
server lazily. Changefeeds are cursors that never end on their own.

# Construction errors

Go chaining cannot return an error at each step, so a Term remembers the first
construction error (bad arity, unknown optional argument, misplaced Row) and
every later Term built on top of it inherits that error. Build, Run and friends
report it before anything is sent to the server.

# Implicit row

Row refers to the argument of the single enclosing one-argument function.
Passing a Row-containing expression to a function-taking command wraps it into
such a function:

	Table("users").Filter(Row.Field("age").Gt(18))

Row nested inside a second function is rejected, as it would bind to the wrong
scope; use Func1 instead.

# Wire format

A query frame is an 8-byte little-endian token, a 4-byte little-endian length,
and a JSON body [queryType, term, globalOptArgs]. Terms serialize as
[kind, [args...], {optargs...}] using the numeric opcodes in TermKind.
*/
package reql
