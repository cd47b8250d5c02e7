package cache

import (
	"sync"
	"time"
)

// Store 带过期时间的键值存储
// Token、Feed、SKU 集合和同步锁都通过它缓存，由调用方注入
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	// Add 仅在 key 不存在（或已过期）时写入，返回是否写入成功
	Add(key string, value any, ttl time.Duration) bool
	Delete(key string)
	// CompareAndDelete 仅当当前值等于 value 时删除，value 必须可比较
	CompareAndDelete(key string, value any) bool
}

// cacheItem 内部结构，包含值和过期时间
type cacheItem struct {
	value      any
	expiration time.Time
}

func (i cacheItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// MemoryStore 进程内实现，使用 sync.Map 保证并发安全
type MemoryStore struct {
	items sync.Map
	mu    sync.Mutex // 保护 Add / CompareAndDelete 的检查-写入
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// SetClock 替换时钟（测试用）
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

// Get 获取缓存并验证是否过期
func (s *MemoryStore) Get(key string) (any, bool) {
	val, ok := s.items.Load(key)
	if !ok {
		return nil, false
	}

	item := val.(cacheItem)
	if item.expired(s.now()) {
		s.items.Delete(key) // 懒删除
		return nil, false
	}
	return item.value, true
}

// Set 设置缓存，ttl <= 0 表示永不过期
func (s *MemoryStore) Set(key string, value any, ttl time.Duration) {
	s.items.Store(key, s.newItem(value, ttl))
}

func (s *MemoryStore) Add(key string, value any, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.Get(key); ok {
		return false
	}
	s.items.Store(key, s.newItem(value, ttl))
	return true
}

// Delete 删除缓存 (用完即焚)
func (s *MemoryStore) Delete(key string) {
	s.items.Delete(key)
}

func (s *MemoryStore) CompareAndDelete(key string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.Get(key)
	if !ok || cur != value {
		return false
	}
	s.items.Delete(key)
	return true
}

func (s *MemoryStore) newItem(value any, ttl time.Duration) cacheItem {
	item := cacheItem{value: value}
	if ttl > 0 {
		item.expiration = s.now().Add(ttl)
	}
	return item
}
