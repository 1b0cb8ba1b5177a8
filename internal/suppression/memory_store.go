package suppression

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const (
	shardCount = 32
	// every pruneEvery writes a shard drops entries nobody asked about again
	pruneEvery = 1024
)

type shard struct {
	mu      sync.Mutex
	content map[string]claim
	windows map[string]*window
	writes  int
}

// claim is the first owner of a content key and when it lets go.
type claim struct {
	owner   string
	expires time.Time
}

type occurrence struct {
	at     time.Time
	member string
}

type window struct {
	seen []occurrence
	span time.Duration
}

// trim drops occurrences at or before now-span. seen is kept sorted by at.
func (w *window) trim(now time.Time) {
	cutoff := now.Add(-w.span)
	i := sort.Search(len(w.seen), func(i int) bool { return w.seen[i].at.After(cutoff) })
	w.seen = w.seen[i:]
}

func (w *window) has(member string) bool {
	for _, o := range w.seen {
		if o.member == member {
			return true
		}
	}
	return false
}

// MemoryStore is a process-local Store. Keys hash onto a fixed set of
// shards, each with its own lock, and expire lazily on access.
type MemoryStore struct {
	shards [shardCount]*shard
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{
			content: make(map[string]claim),
			windows: make(map[string]*window),
		}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) RememberContent(ctx context.Context, key, owner string, now time.Time, retention time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if c, ok := sh.content[key]; ok && now.Before(c.expires) {
		return c.owner != owner, nil
	}
	sh.content[key] = claim{owner: owner, expires: now.Add(retention)}
	sh.maybePrune(now)
	return false, nil
}

func (s *MemoryStore) CountOccurrence(ctx context.Context, key, member string, now time.Time, span time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok {
		w = &window{}
		sh.windows[key] = w
	}
	w.span = span
	w.trim(now)
	if w.has(member) {
		return len(w.seen), nil
	}

	// out-of-order timestamps are clamped so seen stays sorted
	at := now
	if n := len(w.seen); n > 0 && at.Before(w.seen[n-1].at) {
		at = w.seen[n-1].at
	}
	w.seen = append(w.seen, occurrence{at: at, member: member})
	sh.maybePrune(now)
	return len(w.seen), nil
}

func (s *MemoryStore) Name() string {
	return "memory"
}

// Len returns the number of live content and window keys.
func (s *MemoryStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.content) + len(sh.windows)
		sh.mu.Unlock()
	}
	return total
}

// maybePrune must be called with sh.mu held.
func (sh *shard) maybePrune(now time.Time) {
	sh.writes++
	if sh.writes < pruneEvery {
		return
	}
	sh.writes = 0
	for k, c := range sh.content {
		if !now.Before(c.expires) {
			delete(sh.content, k)
		}
	}
	for k, w := range sh.windows {
		w.trim(now)
		if len(w.seen) == 0 {
			delete(sh.windows, k)
		}
	}
}
