package shared

import (
	"fmt"
	"sync"
)

// PlanLockKey names the exclusive critical section guarding a month's plan writes.
func PlanLockKey(ym YearMonth) string {
	return fmt.Sprintf("plan:%04d-%02d:lock", ym.Year, ym.Month)
}

// LayoutLockKey names the critical section guarding a month's header layout writes.
func LayoutLockKey(ym YearMonth, class DayClass) string {
	return fmt.Sprintf("layout:%04d-%02d:%s:lock", ym.Year, ym.Month, class)
}

// KeyedMutex hands out one mutex per key. Entries are never evicted; the key
// space (one per month and day class) stays small.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock acquires the mutex for key and returns its release function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
