package chatsync

// Feed is the ordered, de-duplicated list of known messages.
// It is not safe for concurrent use; Session guards it.
type Feed struct {
	messages []Message
	ids      map[string]struct{}
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{ids: make(map[string]struct{})}
}

// Append adds m unless a message with the same ID is already present.
// Order is the caller's responsibility; Append never re-sorts.
func (f *Feed) Append(m Message) bool {
	if _, dup := f.ids[m.ID]; dup {
		return false
	}
	f.ids[m.ID] = struct{}{}
	f.messages = append(f.messages, m)
	return true
}

// Contains reports whether a message with id is present.
func (f *Feed) Contains(id string) bool {
	_, ok := f.ids[id]
	return ok
}

// Len returns the number of messages.
func (f *Feed) Len() int {
	return len(f.messages)
}

// Messages returns a copy of the feed in display order.
func (f *Feed) Messages() []Message {
	out := make([]Message, len(f.messages))
	copy(out, f.messages)
	return out
}
