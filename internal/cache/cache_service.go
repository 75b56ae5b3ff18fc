package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vasset/extractor-service/internal/resolver"
	"vasset/extractor-service/internal/utils"
)

// Service 解析结果缓存
// 下载地址有时效, TTL 必须明显短于上游地址的过期时间
type Service struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewService 创建缓存服务
func NewService(redisClient *redis.Client, ttl time.Duration) *Service {
	return &Service{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get 从缓存获取解析结果
func (s *Service) Get(ctx context.Context, url string) (*resolver.MediaDescriptor, error) {
	data, err := s.redis.Get(ctx, generateCacheKey(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, utils.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var desc resolver.MediaDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &desc, nil
}

// Set 写入缓存
func (s *Service) Set(ctx context.Context, url string, desc *resolver.MediaDescriptor) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	if err := s.redis.Set(ctx, generateCacheKey(url), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Ping 健康检查
func (s *Service) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func generateCacheKey(url string) string {
	hash := md5.Sum([]byte(url))
	return fmt.Sprintf("extractor:url:%x", hash)
}
