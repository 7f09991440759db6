package rstream

import (
	"github.com/twmb/go-rbtree"
)

// trackerKey is the composite (command_kind, correlation_id) key used to
// match a response to its waiter. Keying by kind, not just correlation
// id, defends against a buggy or malicious server reusing a correlation
// id across command kinds.
type trackerKey struct {
	kind   commandKey
	corrID uint32
}

func (k trackerKey) less(o trackerKey) bool {
	if k.corrID != o.corrID {
		return k.corrID < o.corrID
	}
	return k.kind < o.kind
}

// waiter is what a push call parks: the channel a blocked caller is
// waiting on, plus whatever small payload the command pre-allocated
// (e.g. a declare_publisher's locally chosen publisher id).
type waiter struct {
	key     trackerKey
	reply   chan trackerResult
	payload interface{}
}

type trackerResult struct {
	resp reply
	err  error
}

// trackerNode is the rbtree.Item stored in the tree, ordered by trackerKey
// so a drain walks waiters in the order their requests were issued
// (ascending correlation id) rather than in map iteration order. The tree
// is non-intrusive: it hands back a *rbtree.Node wrapping this Item, and
// that Node (not the Item) is what Delete expects back.
type trackerNode struct {
	w waiter
}

func (n *trackerNode) Less(other rbtree.Item) bool {
	return n.w.key.less(other.(*trackerNode).w.key)
}

// requestTracker maps (kind, correlation_id) -> waiter for replies the
// actor goroutine is still waiting to deliver. It is owned exclusively by
// the connection's actor goroutine: no internal locking.
type requestTracker struct {
	tree  rbtree.Tree
	index map[trackerKey]*rbtree.Node
}

func newRequestTracker() *requestTracker {
	return &requestTracker{index: make(map[trackerKey]*rbtree.Node)}
}

// push records a new pending waiter under key.
func (t *requestTracker) push(key trackerKey, replyCh chan trackerResult, payload interface{}) {
	n := t.tree.Insert(&trackerNode{w: waiter{key: key, reply: replyCh, payload: payload}})
	t.index[key] = n
}

// pop removes and returns the waiter for key, if any.
func (t *requestTracker) pop(key trackerKey) (waiter, bool) {
	n, ok := t.index[key]
	if !ok {
		return waiter{}, false
	}
	delete(t.index, key)
	t.tree.Delete(n)
	return n.Item.(*trackerNode).w, true
}

// len reports the number of pending waiters; used by tests to assert
// tracker closure.
func (t *requestTracker) len() int { return len(t.index) }

// drain replies err to every pending waiter, in ascending correlation-id
// order, and empties the tracker. Called on socket loss or close.
func (t *requestTracker) drain(err error) {
	for n := t.tree.Min(); n != nil; n = t.tree.Min() {
		tn := n.Item.(*trackerNode)
		t.tree.Delete(n)
		delete(t.index, tn.w.key)
		tn.w.reply <- trackerResult{err: err}
	}
}
