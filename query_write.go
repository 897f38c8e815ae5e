package reql

// Writes and changefeeds.

// Insert inserts a document or an array of documents. Documents without a
// primary key get a generated UUID, reported in generated_keys.
func (t Term) Insert(docs any, opts ...Optional) Term {
	return mkOpts(TermInsert, opts, t, docs)
}

// Update merges an object, or the object returned by a function of the
// document, into each selected document.
func (t Term) Update(doc any, opts ...Optional) Term {
	return mkfOpts(TermUpdate, 1, opts, t, doc)
}

// Replace replaces each selected document. Returning null from the function
// deletes the document.
func (t Term) Replace(doc any, opts ...Optional) Term {
	return mkfOpts(TermReplace, 1, opts, t, doc)
}

func (t Term) Delete(opts ...Optional) Term {
	return mkOpts(TermDelete, opts, t)
}

// Changes turns a table, selection or single document into a changefeed.
func (t Term) Changes(opts ...Optional) Term {
	return mkOpts(TermChanges, opts, t)
}

func Insert(table Term, docs any, opts ...Optional) Term { return table.Insert(docs, opts...) }
func Update(sel Term, doc any, opts ...Optional) Term    { return sel.Update(doc, opts...) }
func Replace(sel Term, doc any, opts ...Optional) Term   { return sel.Replace(doc, opts...) }
func Delete(sel Term, opts ...Optional) Term             { return sel.Delete(opts...) }
func Changes(sel Term, opts ...Optional) Term            { return sel.Changes(opts...) }
