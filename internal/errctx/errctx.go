// Package errctx keeps a per-goroutine record of the most recent library
// failure: the provider errno, if any, and a human-readable message.
//
// Records are written only by failing calls and are never cleared
// implicitly; reading the record after an unrelated successful call returns
// stale data by design. Errors recorded in one goroutine are invisible to
// every other goroutine.
package errctx

import (
	"sync"

	"github.com/petermattis/goid"
)

type record struct {
	errno int
	msg   string
}

const shardCount = 64

type shard struct {
	mu sync.RWMutex
	m  map[int64]record
}

var shards [shardCount]*shard

func init() {
	for i := range shards {
		shards[i] = &shard{m: make(map[int64]record)}
	}
}

func shardFor(gid int64) *shard {
	return shards[uint64(gid)%shardCount]
}

// Set overwrites the calling goroutine's failure record.
func Set(errno int, msg string) {
	gid := goid.Get()
	s := shardFor(gid)

	s.mu.Lock()
	s.m[gid] = record{errno: errno, msg: msg}
	s.mu.Unlock()
}

// ProviderErrno returns the provider errno from the calling goroutine's
// record, or zero when no provider error was recorded.
func ProviderErrno() int {
	gid := goid.Get()
	s := shardFor(gid)

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.m[gid].errno
}

// Message returns the message from the calling goroutine's record.
func Message() string {
	gid := goid.Get()
	s := shardFor(gid)

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.m[gid].msg
}

// Clear drops the calling goroutine's record. Long-lived worker pools may
// call this when recycling a goroutine; the library itself never does.
func Clear() {
	gid := goid.Get()
	s := shardFor(gid)

	s.mu.Lock()
	delete(s.m, gid)
	s.mu.Unlock()
}
