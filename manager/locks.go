// Package manager implements the chat operations on top of the entity
// stores and order-statistic indexes, keeping every counter, membership set
// and index key consistent with the others.
//
// Lock order. An operation takes at most one user lock, then at most one
// channel lock, then at most one delivery lock, then leaf locks (counters,
// messages, globals) one at a time, then tree mutexes inside the index
// package. A leaf lock is never held while acquiring another leaf lock.
package manager

import (
	"strconv"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Locks hands out one mutex per key. Mutexes are created on first use and
// kept for the lifetime of the process.
type Locks struct {
	mutexes *xsync.MapOf[string, *sync.Mutex]
}

func NewLocks() *Locks {
	return &Locks{mutexes: xsync.NewMapOf[string, *sync.Mutex]()}
}

// Lock acquires the mutex of key and returns its unlock function.
func (l *Locks) Lock(key string) func() {
	mu, _ := l.mutexes.LoadOrCompute(key, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return mu.Unlock
}

// Len returns the number of mutexes created so far.
func (l *Locks) Len() int {
	return l.mutexes.Size()
}

func userLockKey(id int64) string { return "user/" + strconv.FormatInt(id, 10) }

func userNameLockKey(name string) string { return "user_name/" + name }

func channelLockKey(name string) string { return "channel/" + name }

func deliveryLockKey(userID int64) string { return "deliver/" + strconv.FormatInt(userID, 10) }

func messageLockKey(id int64) string { return "message/" + strconv.FormatInt(id, 10) }
