package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vasset/extractor-service/internal/config"
	"vasset/extractor-service/internal/profile"
	"vasset/extractor-service/internal/proxy"
	"vasset/extractor-service/internal/resolver"
	"vasset/extractor-service/internal/utils"
	"vasset/extractor-service/internal/ytdlp"
)

// Extractor 提取原语
type Extractor interface {
	Extract(ctx context.Context, url string, opts ytdlp.Options) (*ytdlp.VideoInfo, error)
}

// ProxySource 代理来源
type ProxySource interface {
	GetWorkingProxy(ctx context.Context) (proxy.Endpoint, bool)
}

// DescriptorCache 解析结果缓存
type DescriptorCache interface {
	Get(ctx context.Context, url string) (*resolver.MediaDescriptor, error)
	Set(ctx context.Context, url string, desc *resolver.MediaDescriptor) error
}

// Phase 编排阶段
type Phase string

const (
	PhaseDirect     Phase = "direct"
	PhaseProxied    Phase = "proxied"
	PhaseLastResort Phase = "last_resort"
)

// Attempt 单次提取尝试的记录, 只在一次编排内存在
type Attempt struct {
	Phase   Phase
	Profile profile.Tier
	Proxy   proxy.Endpoint
	Elapsed time.Duration
	Err     error
}

// ExtractService 解析编排服务
type ExtractService struct {
	cfg       *config.OrchestratorConfig
	extractor Extractor
	proxies   ProxySource
	selector  *profile.Selector
	limiter   *utils.ConcurrencyLimiter
	cache     DescriptorCache
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *zap.Logger
}

// Option 服务选项
type Option func(*ExtractService)

// WithCache 启用结果缓存
func WithCache(c DescriptorCache) Option {
	return func(s *ExtractService) { s.cache = c }
}

// WithSleep 替换退避等待, 测试用
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *ExtractService) { s.sleep = sleep }
}

// WithLimiter 限制同时进行的提取数
func WithLimiter(l *utils.ConcurrencyLimiter) Option {
	return func(s *ExtractService) { s.limiter = l }
}

// NewExtractService 创建解析编排服务
func NewExtractService(
	cfg *config.OrchestratorConfig,
	extractor Extractor,
	proxies ProxySource,
	selector *profile.Selector,
	logger *zap.Logger,
	opts ...Option,
) *ExtractService {
	s := &ExtractService{
		cfg:       cfg,
		extractor: extractor,
		proxies:   proxies,
		selector:  selector,
		sleep:     sleepContext,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Extract 依次尝试直连、代理、兜底三个阶段, 任一阶段成功立即返回
func (s *ExtractService) Extract(ctx context.Context, rawURL string) (*resolver.MediaDescriptor, error) {
	// 1. 标准化并验证URL
	url := utils.NormalizeURL(rawURL)
	if !utils.IsValidURL(url) {
		return nil, utils.ErrInvalidURL
	}

	// 2. 检查缓存
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, url); err == nil {
			s.logger.Info("cache hit", zap.String("url", url))
			return cached, nil
		} else if !errors.Is(err, utils.ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.Error(err))
		}
	}

	// 3. 整体截止时间, 传递给正在进行的尝试
	if timeout := s.cfg.GetOverallTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r := &run{svc: s, url: url, start: time.Now()}
	desc, err := r.execute(ctx)

	fields := []zap.Field{
		zap.String("url", url),
		zap.Int("attempts", len(r.attempts)),
		zap.Duration("elapsed", time.Since(r.start)),
	}
	if err != nil {
		s.logger.Error("extraction failed", append(fields, zap.Error(err))...)
		return nil, err
	}

	last := r.attempts[len(r.attempts)-1]
	s.logger.Info("extraction success", append(fields,
		zap.String("phase", string(last.Phase)),
		zap.String("profile", string(last.Profile)),
		zap.String("proxy", string(last.Proxy)),
	)...)

	if s.cache != nil {
		// 请求 ctx 可能已接近截止, 写缓存单独计时
		cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		if err := s.cache.Set(cacheCtx, url, desc); err != nil {
			s.logger.Warn("cache set failed", zap.Error(err))
		}
		cancel()
	}
	return desc, nil
}

// run 一次编排的状态
type run struct {
	svc      *ExtractService
	url      string
	start    time.Time
	attempts []Attempt
	lastErr  error
}

func (r *run) execute(ctx context.Context) (*resolver.MediaDescriptor, error) {
	s := r.svc

	// 直连阶段
	for i := 0; i < s.cfg.DirectAttempts; i++ {
		p, ok := s.selector.Select(i, profile.ModeDirect)
		if !ok {
			break
		}
		desc, err := r.attempt(ctx, PhaseDirect, p, "")
		if err == nil {
			return desc, nil
		}
		if !utils.IsRetryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, r.exhausted(ctx)
		}
	}

	// 代理阶段: 每轮一个代理一个 profile, profile 用完即结束
	next := 0
	for round := 0; round < s.cfg.ProxyRounds && next < s.selector.Len(profile.ModeConstrained); round++ {
		ep, ok := s.proxies.GetWorkingProxy(ctx)
		if ctx.Err() != nil {
			return nil, r.exhausted(ctx)
		}
		if !ok {
			s.logger.Info("no proxy available, waiting",
				zap.Int("round", round+1),
				zap.Duration("backoff", s.cfg.GetNoProxyBackoff()),
			)
			if r.lastErr == nil {
				r.lastErr = utils.ErrNoProxy
			}
			if err := s.sleep(ctx, s.cfg.GetNoProxyBackoff()); err != nil {
				return nil, r.exhausted(ctx)
			}
			continue
		}

		p, ok := s.selector.Select(next, profile.ModeConstrained)
		if !ok {
			break
		}
		next++

		desc, err := r.attempt(ctx, PhaseProxied, p, ep)
		if err == nil {
			return desc, nil
		}
		if !utils.IsRetryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, r.exhausted(ctx)
		}
	}

	// 兜底: 最低质量, 最简单的客户端, 不走代理
	desc, err := r.attempt(ctx, PhaseLastResort, s.selector.LastResort(), "")
	if err == nil {
		return desc, nil
	}
	if !utils.IsRetryable(err) {
		return nil, err
	}
	return nil, r.exhausted(ctx)
}

func (r *run) exhausted(ctx context.Context) error {
	cause := r.lastErr
	if cause == nil {
		cause = ctx.Err()
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w after %d attempts (deadline exceeded): %w", utils.ErrExhausted, len(r.attempts), cause)
	}
	return fmt.Errorf("%w after %d attempts: %w", utils.ErrExhausted, len(r.attempts), cause)
}

// attempt 执行一次带超时的提取并解析
func (r *run) attempt(ctx context.Context, phase Phase, p profile.Profile, ep proxy.Endpoint) (*resolver.MediaDescriptor, error) {
	s := r.svc
	start := time.Now()

	var proxyURL string
	if ep != "" {
		proxyURL = ep.URL()
	}

	desc, err := r.extract(ctx, p, proxyURL)

	a := Attempt{Phase: phase, Profile: p.Name, Proxy: ep, Elapsed: time.Since(start), Err: err}
	r.attempts = append(r.attempts, a)

	if err != nil {
		r.lastErr = err
		s.logger.Warn("extraction attempt failed",
			zap.String("phase", string(phase)),
			zap.String("profile", string(p.Name)),
			zap.String("proxy", string(ep)),
			zap.Duration("elapsed", a.Elapsed),
			zap.Error(err),
		)
	}
	return desc, err
}

func (r *run) extract(ctx context.Context, p profile.Profile, proxyURL string) (*resolver.MediaDescriptor, error) {
	s := r.svc

	attemptCtx := ctx
	if p.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()
	}

	if s.limiter != nil {
		if err := s.limiter.Acquire(attemptCtx); err != nil {
			return nil, fmt.Errorf("%w: waiting for extraction slot", utils.ErrTimeout)
		}
		defer s.limiter.Release()
	}

	info, err := s.extractor.Extract(attemptCtx, r.url, p.Options(proxyURL))
	if err != nil {
		return nil, err
	}
	return resolver.Resolve(info)
}
