package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vasset/extractor-service/internal/config"
	"vasset/extractor-service/internal/utils"
)

// VerifiedProxy 已验证代理的快照
type VerifiedProxy struct {
	Endpoint Endpoint `json:"endpoint"`
	Country  string   `json:"country,omitempty"`
}

// Stats 代理池统计
type Stats struct {
	Discovered  int       `json:"discovered"`
	Verified    int       `json:"verified"`
	Dead        int       `json:"dead"`
	LastRefresh time.Time `json:"last_refresh"`
	Running     bool      `json:"running"`
}

// Pool 代理池
// discovered/verified/dead 三个集合只在 mu 下修改, verified 与 dead 始终不相交
type Pool struct {
	cfg     *config.ProxyConfig
	sources []Source
	prober  Prober
	geo     Locator
	logger  *zap.Logger
	rnd     Rand
	now     func() time.Time

	mu          sync.Mutex
	discovered  map[Endpoint]struct{}
	order       []Endpoint // discovered 的插入顺序, 保证抽样可复现
	verified    []Endpoint
	dead        map[Endpoint]time.Time // 过期时间, 零值表示永久
	countries   map[Endpoint]string
	lastRefresh time.Time

	refreshing atomic.Bool
	running    atomic.Bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// Option 代理池选项
type Option func(*Pool)

// WithRand 注入随机源
func WithRand(r Rand) Option {
	return func(p *Pool) { p.rnd = r }
}

// WithLocator 注入国家查询
func WithLocator(l Locator) Option {
	return func(p *Pool) { p.geo = l }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// NewPool 创建代理池
func NewPool(cfg *config.ProxyConfig, sources []Source, prober Prober, logger *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		cfg:        cfg,
		sources:    sources,
		prober:     prober,
		logger:     logger,
		rnd:        globalRand{},
		now:        time.Now,
		discovered: make(map[Endpoint]struct{}),
		dead:       make(map[Endpoint]time.Time),
		countries:  make(map[Endpoint]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// RefreshFromSources 从所有来源拉取代理并合并到 discovered
// 已有刷新在进行时直接返回当前 verified 快照
func (p *Pool) RefreshFromSources(ctx context.Context) []Endpoint {
	if !p.refreshing.CompareAndSwap(false, true) {
		p.logger.Debug("Refresh already in progress")
		return p.snapshotVerified()
	}
	defer p.refreshing.Store(false)

	results := make([][]Endpoint, len(p.sources))
	var g errgroup.Group
	for i, src := range p.sources {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Proxy source panicked",
						zap.String("source", src.Name()),
						zap.Any("panic", r),
					)
				}
			}()
			srcCtx, cancel := context.WithTimeout(ctx, p.cfg.GetSourceTimeout())
			defer cancel()

			eps, err := src.Fetch(srcCtx)
			if err != nil {
				p.logger.Warn("Proxy source failed",
					zap.String("source", src.Name()),
					zap.Error(err),
				)
				return nil
			}
			p.logger.Debug("Proxy source fetched",
				zap.String("source", src.Name()),
				zap.Int("count", len(eps)),
			)
			results[i] = eps
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	added := 0
	for _, eps := range results {
		for _, ep := range eps {
			if _, ok := p.discovered[ep]; ok {
				continue
			}
			p.discovered[ep] = struct{}{}
			p.order = append(p.order, ep)
			added++
		}
	}
	p.lastRefresh = p.now()
	total := len(p.discovered)
	verified := slices.Clone(p.verified)
	p.mu.Unlock()

	p.logger.Info("Proxy sources refreshed",
		zap.Int("added", added),
		zap.Int("discovered", total),
	)
	return verified
}

// Verify 探测单个代理, 冷却期内的失效代理直接返回 false
func (p *Pool) Verify(ctx context.Context, ep Endpoint) bool {
	p.mu.Lock()
	dead := p.isDeadLocked(ep)
	p.mu.Unlock()
	if dead {
		return false
	}

	ok := p.prober.Check(ctx, ep)
	if !ok && ctx.Err() != nil {
		// 调用方取消, 不记代理的账
		return false
	}

	var country string
	if ok && p.geo != nil {
		if c, err := p.geo.Country(ep.Host()); err == nil {
			country = c
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !ok {
		p.removeVerifiedLocked(ep)
		var expiry time.Time
		if cooldown := p.cfg.GetDeadCooldown(); cooldown > 0 {
			expiry = p.now().Add(cooldown)
		}
		p.dead[ep] = expiry
		return false
	}

	// 并发探测时另一次失败可能先落库
	if p.isDeadLocked(ep) {
		return false
	}
	if !slices.Contains(p.verified, ep) {
		p.verified = append(p.verified, ep)
	}
	if country != "" {
		p.countries[ep] = country
	}
	return true
}

// GetWorkingProxy 在有限次探测内返回一个可用代理
func (p *Pool) GetWorkingProxy(ctx context.Context) (Endpoint, bool) {
	// 1. 已验证代理随机取一个并复验
	if ep, ok := p.randomVerified(); ok {
		if p.Verify(ctx, ep) {
			return ep, true
		}
		p.logger.Debug("Verified proxy went stale", zap.String("proxy", string(ep)))
	}

	// 2. 冷启动
	p.mu.Lock()
	empty := len(p.discovered) == 0
	p.mu.Unlock()
	if empty {
		p.RefreshFromSources(ctx)
	}

	// 3. 从未测试的代理中无放回抽样
	for _, ep := range p.sampleUntested(p.cfg.OnDemandSamples) {
		if ctx.Err() != nil {
			return "", false
		}
		if p.Verify(ctx, ep) {
			return ep, true
		}
	}

	// 4. 尽力而为, 可能已失效
	if ep, ok := p.randomVerified(); ok {
		return ep, true
	}
	return "", false
}

// Start 启动后台刷新
func (p *Pool) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		defer p.running.Store(false)
		p.Run(ctx)
	}()
}

// Stop 停止后台刷新并等待退出
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Run 后台循环, 只在 ctx 结束时返回
func (p *Pool) Run(ctx context.Context) {
	interval := p.cfg.GetRefreshInterval()
	backoff := p.cfg.GetErrorBackoff()
	p.logger.Info("Proxy refresh loop started",
		zap.Duration("interval", interval),
		zap.Int("min_verified", p.cfg.MinVerified),
	)

	for {
		wait := interval
		if err := p.safeCycle(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("Proxy refresh cycle failed", zap.Error(err), zap.Duration("backoff", backoff))
			wait = backoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("Proxy refresh loop stopped")
			return
		case <-timer.C:
		}
	}
}

func (p *Pool) safeCycle(ctx context.Context) (err error) {
	defer recoverAsError(&err)
	return p.Cycle(ctx)
}

func recoverAsError(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic in refresh cycle: %v", r)
	}
}

// Cycle 执行一轮补充: verified 不足时探测一批未测试代理
func (p *Pool) Cycle(ctx context.Context) error {
	p.mu.Lock()
	verified := len(p.verified)
	p.mu.Unlock()

	if verified >= p.cfg.MinVerified {
		p.logger.Debug("Proxy pool healthy", zap.Int("verified", verified))
		return nil
	}

	batch := p.sampleUntested(p.cfg.BatchSize)
	if len(batch) == 0 {
		// 冷启动, 或列表里的代理都测过了
		p.RefreshFromSources(ctx)
		batch = p.sampleUntested(p.cfg.BatchSize)
	}
	if len(batch) == 0 {
		return fmt.Errorf("%w: no untested candidates", utils.ErrNoProxy)
	}

	var passed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ProbeConcurrency)
	for _, ep := range batch {
		g.Go(func() (err error) {
			defer recoverAsError(&err)
			if p.Verify(gctx, ep) {
				passed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	stats := p.Stats()
	p.logger.Info("Proxy refresh cycle done",
		zap.Int("probed", len(batch)),
		zap.Int32("passed", passed.Load()),
		zap.Int("verified", stats.Verified),
		zap.Int("dead", stats.Dead),
	)
	return nil
}

// Verified 已验证代理快照
func (p *Pool) Verified() []VerifiedProxy {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]VerifiedProxy, 0, len(p.verified))
	for _, ep := range p.verified {
		out = append(out, VerifiedProxy{Endpoint: ep, Country: p.countries[ep]})
	}
	return out
}

// Stats 统计信息
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	dead := 0
	for ep := range p.dead {
		if p.isDeadLocked(ep) {
			dead++
		}
	}
	return Stats{
		Discovered:  len(p.discovered),
		Verified:    len(p.verified),
		Dead:        dead,
		LastRefresh: p.lastRefresh,
		Running:     p.running.Load(),
	}
}

// IsDead 是否处于冷却期
func (p *Pool) IsDead(ep Endpoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isDeadLocked(ep)
}

func (p *Pool) isDeadLocked(ep Endpoint) bool {
	expiry, ok := p.dead[ep]
	if !ok {
		return false
	}
	if expiry.IsZero() || p.now().Before(expiry) {
		return true
	}
	delete(p.dead, ep)
	return false
}

func (p *Pool) removeVerifiedLocked(ep Endpoint) {
	if i := slices.Index(p.verified, ep); i >= 0 {
		p.verified = slices.Delete(p.verified, i, i+1)
	}
	delete(p.countries, ep)
}

func (p *Pool) snapshotVerified() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.verified)
}

func (p *Pool) randomVerified() (Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.verified) == 0 {
		return "", false
	}
	return p.verified[p.rnd.IntN(len(p.verified))], true
}

// sampleUntested 从 discovered \ (verified ∪ dead) 中无放回抽取最多 n 个
func (p *Pool) sampleUntested(n int) []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]Endpoint, 0, len(p.order))
	for _, ep := range p.order {
		if p.isDeadLocked(ep) || slices.Contains(p.verified, ep) {
			continue
		}
		candidates = append(candidates, ep)
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	// partial Fisher-Yates
	for i := 0; i < n; i++ {
		j := i + p.rnd.IntN(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	return candidates[:n]
}

var errNoSources = errors.New("no proxy sources configured")

// Validate 检查代理池是否可以工作
func (p *Pool) Validate() error {
	if len(p.sources) == 0 {
		return errNoSources
	}
	return nil
}
