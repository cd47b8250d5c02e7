package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStore_SetGetExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	s.Set("token", "abc", 45*time.Minute)
	v, ok := s.Get("token")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	now = now.Add(46 * time.Minute)
	_, ok = s.Get("token")
	assert.False(t, ok, "过期后应不可见")
}

func TestMemoryStore_NoTTL(t *testing.T) {
	s := NewMemoryStore()
	s.Set("k", 1, 0)
	v, ok := s.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	s.Delete("k")
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestMemoryStore_Add(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	assert.True(t, s.Add("lock", now, 30*time.Minute))
	assert.False(t, s.Add("lock", now, 30*time.Minute), "锁未过期时不能重复获取")

	now = now.Add(31 * time.Minute)
	assert.True(t, s.Add("lock", now, 30*time.Minute), "过期后可以重新获取")
}

func TestMemoryStore_CompareAndDelete(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	assert.True(t, s.Add("lock", "run-a", 30*time.Minute))
	assert.False(t, s.CompareAndDelete("lock", "run-b"), "不是持有者不能删除")
	_, ok := s.Get("lock")
	assert.True(t, ok)

	// run-a 的锁过期后被 run-b 取得
	now = now.Add(31 * time.Minute)
	assert.True(t, s.Add("lock", "run-b", 30*time.Minute))
	assert.False(t, s.CompareAndDelete("lock", "run-a"), "过期的持有者不能删除新锁")

	v, ok := s.Get("lock")
	assert.True(t, ok)
	assert.Equal(t, "run-b", v)

	assert.True(t, s.CompareAndDelete("lock", "run-b"))
	_, ok = s.Get("lock")
	assert.False(t, ok)
	assert.False(t, s.CompareAndDelete("missing", "x"))
}

func TestMemoryStore_AddConcurrent(t *testing.T) {
	s := NewMemoryStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Add("lock", time.Now(), time.Minute) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
