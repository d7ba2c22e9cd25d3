// =============================================================================
// 响应缓存 / 💾
// =============================================================================
// 模型响应的多级缓存：本地 LRU（懒惰过期）+ 可选 Redis 层。
// 并发写入同一键不做去重合并，后写者覆盖先写者。
// =============================================================================

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/llm"
)

var ErrCacheMiss = errors.New("cache miss")

// ResponseCache 响应缓存接口
type ResponseCache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error
}

// Entry 缓存条目
type Entry struct {
	Result    *llm.InferenceResult `json:"result"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
	HitCount  int                  `json:"hit_count"`
}

// Config 缓存配置
type Config struct {
	LocalMaxSize int           // 本地缓存最大条目数
	LocalTTL     time.Duration // 本地缓存 TTL
	RedisTTL     time.Duration // Redis 缓存 TTL
	EnableLocal  bool          // 是否启用本地缓存
	EnableRedis  bool          // 是否启用 Redis 缓存
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		LocalMaxSize: 1000,
		LocalTTL:     5 * time.Minute,
		RedisTTL:     1 * time.Hour,
		EnableLocal:  true,
		EnableRedis:  false,
	}
}

// MultiLevelCache 多级缓存实现
type MultiLevelCache struct {
	local  *LRUCache
	redis  *redis.Client
	config *Config
	logger *zap.Logger
	now    func() time.Time
}

// NewMultiLevelCache 创建多级缓存
// rdb 为 nil 或 EnableRedis 为假时退化为纯本地缓存。
func NewMultiLevelCache(rdb *redis.Client, config *Config, logger *zap.Logger) *MultiLevelCache {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var local *LRUCache
	if config.EnableLocal {
		local = NewLRUCache(config.LocalMaxSize, config.LocalTTL)
	}

	return &MultiLevelCache{
		local:  local,
		redis:  rdb,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Get 获取缓存，本地未命中时查 Redis 并回填本地
func (c *MultiLevelCache) Get(ctx context.Context, key string) (*Entry, error) {
	if c.config.EnableLocal && c.local != nil {
		if entry, ok := c.local.Get(key); ok {
			c.logger.Debug("local cache hit", zap.String("key", key))
			return entry, nil
		}
	}

	if c.config.EnableRedis && c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var entry Entry
			if err := json.Unmarshal(data, &entry); err == nil {
				if c.config.EnableLocal && c.local != nil {
					c.local.Set(key, &entry)
				}
				c.logger.Debug("redis cache hit", zap.String("key", key))
				return &entry, nil
			}
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get error", zap.Error(err))
		}
	}

	return nil, ErrCacheMiss
}

// Set 写入缓存，后写者覆盖先写者
func (c *MultiLevelCache) Set(ctx context.Context, key string, entry *Entry) error {
	entry.CreatedAt = c.now()
	entry.ExpiresAt = c.now().Add(c.config.RedisTTL)

	if c.config.EnableLocal && c.local != nil {
		c.local.Set(key, entry)
	}

	if c.config.EnableRedis && c.redis != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := c.redis.Set(ctx, key, data, c.config.RedisTTL).Err(); err != nil {
			c.logger.Warn("redis set error", zap.Error(err))
			return err
		}
	}

	c.logger.Debug("cache set", zap.String("key", key))
	return nil
}

// Delete 删除缓存
func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	if c.config.EnableLocal && c.local != nil {
		c.local.Delete(key)
	}
	if c.config.EnableRedis && c.redis != nil {
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Clear 清空本地层，Redis 条目靠 TTL 自然过期
func (c *MultiLevelCache) Clear() {
	if c.local != nil {
		c.local.Clear()
	}
}

// ============================================================
// LRU 本地缓存实现（使用双向链表实现 O(1) 操作）
// ============================================================

// LRUCache 容量受限的本地缓存
// 过期采用懒惰删除：条目只在被读到时检查 TTL，不做后台清扫。
type LRUCache struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	items    map[string]*lruNode
	head     *lruNode // 最近使用
	tail     *lruNode // 最久未使用
	now      func() time.Time
}

type lruNode struct {
	key       string
	entry     *Entry
	expiresAt time.Time
	prev      *lruNode
	next      *lruNode
}

func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruNode),
		now:      time.Now,
	}
}

func (c *LRUCache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}

	// 懒惰过期检查
	if c.now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.items, key)
		return nil, false
	}

	// 移动到头部（O(1) 操作）
	c.moveToHead(node)
	node.entry.HitCount++

	return node.entry, true
}

func (c *LRUCache) Set(key string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 如果已存在，更新并移动到头部
	if node, ok := c.items[key]; ok {
		node.entry = entry
		node.expiresAt = c.now().Add(c.ttl)
		c.moveToHead(node)
		return
	}

	// 检查容量，淘汰最久未使用的
	if len(c.items) >= c.capacity {
		c.evictTail()
	}

	node := &lruNode{
		key:       key,
		entry:     entry,
		expiresAt: c.now().Add(c.ttl),
	}
	c.items[key] = node
	c.addToHead(node)
}

func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		c.removeNode(node)
		delete(c.items, key)
	}
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruNode)
	c.head = nil
	c.tail = nil
}

// addToHead 添加节点到头部 O(1)
func (c *LRUCache) addToHead(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

// removeNode 从链表中移除节点 O(1)
func (c *LRUCache) removeNode(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

// moveToHead 移动节点到头部 O(1)
func (c *LRUCache) moveToHead(node *lruNode) {
	if node == c.head {
		return
	}
	c.removeNode(node)
	c.addToHead(node)
}

// evictTail 淘汰尾部节点 O(1)
func (c *LRUCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	c.removeNode(c.tail)
}

// Stats 缓存统计
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items), c.capacity
}
