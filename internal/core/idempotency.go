package core

import (
	"container/list"
	"context"
)

// Tier names the dedup layer that recognised a command.
type Tier string

const (
	TierNone     Tier = ""
	TierLRU      Tier = "lru"
	TierPostgres Tier = "postgres"
)

// DBIdempotencyChecker looks a command up in the event log.
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker answers "was this command already applied" from an
// in-memory LRU of recent keys, falling back to the event log.
type IdempotencyChecker struct {
	recent *IdempotencyLRU
	log    DBIdempotencyChecker // nil in tests and replicas without a database
}

func NewIdempotencyChecker(capacity int, log DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{recent: NewIdempotencyLRU(capacity), log: log}
}

// dedupKey scopes a request ID to its command type.
func dedupKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// Lookup reports which tier recognised the command, TierNone when it is
// new. A failed event-log lookup returns TierNone with the error; the
// event_log unique constraint still rejects a true duplicate at flush.
func (ic *IdempotencyChecker) Lookup(ctx context.Context, eventType string, idempotencyKey string) (Tier, error) {
	key := dedupKey(eventType, idempotencyKey)
	if ic.recent.Contains(key) {
		return TierLRU, nil
	}
	if ic.log == nil {
		return TierNone, nil
	}

	seen, err := ic.log.IsDuplicate(ctx, eventType, idempotencyKey)
	if err != nil || !seen {
		return TierNone, err
	}
	ic.recent.Add(key)
	return TierPostgres, nil
}

// MarkProcessed remembers an applied command.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.recent.Add(dedupKey(eventType, idempotencyKey))
}

// IdempotencyLRU holds the most recent dedup keys.
// Not thread-safe: guarded by the core mutex.
type IdempotencyLRU struct {
	capacity  int
	index     map[string]*list.Element
	order     *list.List // front is most recent
	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		index:    make(map[string]*list.Element, min(capacity, 1<<16)),
		order:    list.New(),
	}
}

// Contains reports whether key is held, marking it recently used.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.index[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

func (lru *IdempotencyLRU) Add(key string) {
	if elem, ok := lru.index[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.index[key] = lru.order.PushFront(key)

	for lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.index, oldest.Value.(string))
		lru.evictions++
	}
}

// Load adds keys oldest first, so the last key ends up most recent.
func (lru *IdempotencyLRU) Load(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys lists every key from least to most recently used, the order Load
// expects.
func (lru *IdempotencyLRU) Keys() []string {
	keys := make([]string, 0, lru.order.Len())
	for elem := lru.order.Back(); elem != nil; elem = elem.Prev() {
		keys = append(keys, elem.Value.(string))
	}
	return keys
}

func (lru *IdempotencyLRU) Size() int       { return lru.order.Len() }
func (lru *IdempotencyLRU) Evictions() int64 { return lru.evictions }
