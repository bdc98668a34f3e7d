// Package directory 为课程和讲师的展示数据提供带 redis 缓存的查询。
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
)

// Source 是缓存未命中时的数据来源，一般是 repository。
type Source interface {
	GetCourse(ctx context.Context, id string) (*domain.Course, error)
	GetInstructor(ctx context.Context, id string) (*domain.InstructorProfile, error)
}

type Cache struct {
	source Source
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(source Source, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func courseKey(id string) string {
	return fmt.Sprintf("directory:course:%s", id)
}

func instructorKey(id string) string {
	return fmt.Sprintf("directory:instructor:%s", id)
}

func (c *Cache) Course(ctx context.Context, id string) (*domain.Course, error) {
	return lookup(ctx, c, courseKey(id), func(ctx context.Context) (*domain.Course, error) {
		return c.source.GetCourse(ctx, id)
	})
}

func (c *Cache) Instructor(ctx context.Context, id string) (*domain.InstructorProfile, error) {
	return lookup(ctx, c, instructorKey(id), func(ctx context.Context) (*domain.InstructorProfile, error) {
		return c.source.GetInstructor(ctx, id)
	})
}

// lookup 先读 redis，未命中或 redis 不可用时读 source 并回填。
func lookup[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (*T, error)) (*T, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		v := new(T)
		if err := json.Unmarshal(data, v); err == nil {
			return v, nil
		}
		c.logger.Warn("缓存数据无法解析，改为直接查询", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("无法读取 redis，改为直接查询", "key", key, "error", err)
	}

	v, err := load(ctx)
	if err != nil {
		return nil, err
	}

	data, err = json.Marshal(v)
	if err != nil {
		return v, nil
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Debug("无法写入 redis 缓存", "key", key, "error", err)
	}

	return v, nil
}
