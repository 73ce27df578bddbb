package lwc

import "time"

// Subscription maps an opaque id to the expression the server evaluates for
// it and the step of the resulting datapoints.
type Subscription struct {
	ID         string
	Expression string
	Step       time.Duration
}

// SubscriptionTable holds the subscriptions announced on one connection.
// Entries are replaced on re-subscription and never evicted; the number of
// active subscriptions on a connection bounds its size. A table belongs to a
// single stage and is not safe for concurrent use.
type SubscriptionTable struct {
	entries map[string]Subscription
}

// NewSubscriptionTable returns an empty table.
func NewSubscriptionTable() *SubscriptionTable {
	return &SubscriptionTable{entries: make(map[string]Subscription)}
}

// Upsert stores sub, replacing any entry with the same id.
func (t *SubscriptionTable) Upsert(sub Subscription) {
	t.entries[sub.ID] = sub
}

// Lookup returns the subscription for id.
func (t *SubscriptionTable) Lookup(id string) (Subscription, bool) {
	sub, ok := t.entries[id]
	return sub, ok
}

// Len returns the number of subscriptions.
func (t *SubscriptionTable) Len() int {
	return len(t.entries)
}
