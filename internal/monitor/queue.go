package monitor

import "sync"

// Queue is the round-robin order of accounts.
//
// Accounts popped by a cycle are "out" until pushed back. Rebuild only
// changes membership; accounts that are out keep their place at the tail
// when they return, and removed accounts are dropped on push back.
type Queue struct {
	mu      sync.Mutex
	items   []*Account
	members map[int64]*Account
	out     map[int64]bool
}

func NewQueue() *Queue {
	return &Queue{members: map[int64]*Account{}, out: map[int64]bool{}}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pop removes up to n accounts from the front; n <= 0 pops all of them.
func (q *Queue) Pop(n int) []*Account {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || n > len(q.items) {
		n = len(q.items)
	}
	got := make([]*Account, n)
	copy(got, q.items[:n])
	q.items = append(q.items[:0:0], q.items[n:]...)
	for _, a := range got {
		q.out[a.UID] = true
	}
	return got
}

// PushBack returns popped accounts to the tail in the given order.
func (q *Queue) PushBack(accs ...*Account) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, a := range accs {
		delete(q.out, a.UID)
		// A reload may have replaced the account while it was out.
		if cur, ok := q.members[a.UID]; ok && !q.queuedLocked(a.UID) {
			q.items = append(q.items, cur)
		}
	}
}

// Rebuild sets the membership to accs. Known accounts keep their relative
// order; new ones are appended in config order.
func (q *Queue) Rebuild(accs []*Account) {
	q.mu.Lock()
	defer q.mu.Unlock()
	next := make(map[int64]*Account, len(accs))
	for _, a := range accs {
		next[a.UID] = a
	}

	items := make([]*Account, 0, len(accs))
	seen := make(map[int64]bool, len(accs))
	for _, a := range q.items {
		if cur, ok := next[a.UID]; ok {
			items = append(items, cur)
			seen[a.UID] = true
		}
	}
	for _, a := range accs {
		if !seen[a.UID] && !q.out[a.UID] {
			items = append(items, a)
			seen[a.UID] = true
		}
	}
	q.items = items
	q.members = next
}

// Snapshot returns the queued accounts front to back.
func (q *Queue) Snapshot() []*Account {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Account(nil), q.items...)
}

func (q *Queue) queuedLocked(uid int64) bool {
	for _, a := range q.items {
		if a.UID == uid {
			return true
		}
	}
	return false
}
