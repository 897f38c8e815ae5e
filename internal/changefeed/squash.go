package changefeed

// Squasher coalesces changes per document: the first pre-image and the last
// post-image of every key win. Keys keep the order of their first change.
type Squasher struct {
	order   []docID
	pending map[docID]*Change
}

type docID struct {
	source int
	key    string
}

func NewSquasher() *Squasher {
	return &Squasher{pending: make(map[docID]*Change)}
}

func (s *Squasher) Add(chg Change) {
	id := docID{chg.Source, chg.Key}
	if p := s.pending[id]; p != nil {
		p.New, p.NewOffset = chg.New, chg.NewOffset
		return
	}
	c := chg
	s.pending[id] = &c
	s.order = append(s.order, id)
}

func (s *Squasher) Len() int {
	return len(s.order)
}

// Flush returns the coalesced changes and resets the squasher. Changes that
// cancel out, like an insert followed by a delete, are dropped.
func (s *Squasher) Flush() []Change {
	if len(s.order) == 0 {
		return nil
	}
	out := make([]Change, 0, len(s.order))
	for _, id := range s.order {
		if c := s.pending[id]; !c.IsNoop() {
			out = append(out, *c)
		}
	}
	s.order = s.order[:0]
	clear(s.pending)
	return out
}
