package transport

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"

	"github.com/calliope-ai/calliope/internal/domain"
)

const limiterShards = 16

// StreamLimiter bounds concurrent live streams per user. Counters are
// sharded by user hash so unrelated users never contend on one lock.
type StreamLimiter struct {
	max    int
	shards [limiterShards]limiterShard
}

type limiterShard struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewStreamLimiter creates a limiter allowing max concurrent streams per
// user. A non-positive max disables limiting.
func NewStreamLimiter(max int) *StreamLimiter {
	l := &StreamLimiter{max: max}
	for i := range l.shards {
		l.shards[i].counts = make(map[string]int)
	}
	return l
}

func (l *StreamLimiter) shard(user string) *limiterShard {
	h := fnv.New32a()
	h.Write([]byte(user))
	return &l.shards[h.Sum32()%limiterShards]
}

// Acquire reserves a stream slot. The caller must Release exactly once on
// every acquired slot, including after client disconnect.
func (l *StreamLimiter) Acquire(user string) error {
	if l.max <= 0 {
		return nil
	}
	s := l.shard(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[user] >= l.max {
		return domain.NewError(domain.ErrorTypeValidation,
			fmt.Sprintf("too many concurrent streams, limit is %d", l.max)).
			WithStatusCode(http.StatusTooManyRequests)
	}
	s.counts[user]++
	return nil
}

// Release frees a previously acquired slot.
func (l *StreamLimiter) Release(user string) {
	if l.max <= 0 {
		return
	}
	s := l.shard(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[user] <= 1 {
		delete(s.counts, user)
	} else {
		s.counts[user]--
	}
}

// InUse reports the user's current slot count.
func (l *StreamLimiter) InUse(user string) int {
	s := l.shard(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[user]
}
