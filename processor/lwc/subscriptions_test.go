package lwc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionTable(t *testing.T) {
	table := NewSubscriptionTable()

	_, ok := table.Lookup("a")
	assert.False(t, ok)

	table.Upsert(Subscription{ID: "a", Expression: "name,cpu,:eq", Step: time.Minute})
	table.Upsert(Subscription{ID: "b", Expression: "name,mem,:eq", Step: time.Minute})
	assert.Equal(t, 2, table.Len())

	table.Upsert(Subscription{ID: "a", Expression: "name,disk,:eq", Step: 5 * time.Second})
	assert.Equal(t, 2, table.Len())

	sub, ok := table.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, "name,disk,:eq", sub.Expression)
	assert.Equal(t, 5*time.Second, sub.Step)
}
