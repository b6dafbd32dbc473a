package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ========== 限流计数 ==========

// IncrementWindow 对固定窗口计数器加一，返回加一后的计数和窗口剩余时间。
// 首次命中时设置过期时间；若键意外失去 TTL 则补设。
func (c *Client) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := c.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("pexpire %s: %w", key, err)
		}
		return count, window, nil
	}

	ttl, err := c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("pttl %s: %w", key, err)
	}
	if ttl < 0 {
		if err := c.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("pexpire %s: %w", key, err)
		}
		ttl = window
	}
	return count, ttl, nil
}

// PeekWindow 读取计数和剩余时间，不修改计数。
func (c *Client) PeekWindow(ctx context.Context, key string) (int64, time.Duration, error) {
	count, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	ttl, err := c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		ttl = 0
	}
	return count, ttl, nil
}

// ========== JWT 黑名单 ==========

// AddToBlacklist 将 JWT 添加到黑名单
func (c *Client) AddToBlacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, "blacklist:"+jti, "1", ttl).Err()
}

// IsBlacklisted 检查 JWT 是否在黑名单中
func (c *Client) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := c.rdb.Exists(ctx, "blacklist:"+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
