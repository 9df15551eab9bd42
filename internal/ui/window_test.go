package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// queue collects posted closures so tests decide when the main loop runs
type queue struct {
	posted []func()
}

func (q *queue) post(fn func()) { q.posted = append(q.posted, fn) }

func (q *queue) run() {
	posted := q.posted
	q.posted = nil
	for _, fn := range posted {
		fn()
	}
}

func TestReleaseUnbindsInReverseOrder(t *testing.T) {
	b := newBindings((&queue{}).post)

	var order []string
	b.add(func() { order = append(order, "monitor") })
	b.add(func() { order = append(order, "scanner") })
	b.add(func() { order = append(order, "tick") })

	b.release()
	b.release()

	assert.Equal(t, []string{"tick", "scanner", "monitor"}, order)
}

func TestPostedUpdatesDroppedAfterRelease(t *testing.T) {
	q := &queue{}
	b := newBindings(q.post)

	var rendered []int
	b.idle(func() { rendered = append(rendered, 1) })
	q.run()
	b.idle(func() { rendered = append(rendered, 2) })
	b.release()
	q.run()

	assert.Equal(t, []int{1}, rendered)
}

func TestAddAfterReleaseUnbindsImmediately(t *testing.T) {
	b := newBindings((&queue{}).post)
	b.release()

	unbound := false
	b.add(func() { unbound = true })

	assert.True(t, unbound)
}
