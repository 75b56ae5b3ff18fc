package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"vasset/extractor-service/internal/config"
)

type fakeProber struct {
	mu     sync.Mutex
	alive  map[Endpoint]bool
	calls  map[Endpoint]int
	active atomic.Int32
	peak   atomic.Int32
	delay  time.Duration
}

func newFakeProber(alive ...Endpoint) *fakeProber {
	f := &fakeProber{alive: make(map[Endpoint]bool), calls: make(map[Endpoint]int)}
	for _, ep := range alive {
		f.alive[ep] = true
	}
	return f
}

func (f *fakeProber) Check(ctx context.Context, ep Endpoint) bool {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[ep]++
	return f.alive[ep]
}

func (f *fakeProber) set(ep Endpoint, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[ep] = alive
}

func (f *fakeProber) callsFor(ep Endpoint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ep]
}

func (f *fakeProber) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeSource struct {
	name    string
	eps     []Endpoint
	err     error
	calls   atomic.Int32
	block   chan struct{}
	entered chan struct{}
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Fetch(ctx context.Context) ([]Endpoint, error) {
	s.calls.Add(1)
	if s.entered != nil {
		close(s.entered)
	}
	if s.block != nil {
		<-s.block
	}
	return s.eps, s.err
}

// firstRand 总是返回 0, 抽样结果等于插入顺序
type firstRand struct{}

func (firstRand) IntN(int) int { return 0 }

func testConfig() *config.ProxyConfig {
	return &config.ProxyConfig{
		SourceTimeout:    1,
		RefreshInterval:  1,
		ErrorBackoff:     1,
		MinVerified:      5,
		BatchSize:        20,
		ProbeConcurrency: 10,
		OnDemandSamples:  5,
	}
}

func newTestPool(cfg *config.ProxyConfig, prober Prober, sources ...Source) *Pool {
	return NewPool(cfg, sources, prober, zap.NewNop(), WithRand(firstRand{}))
}

func assertDisjoint(t *testing.T, p *Pool) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ep := range p.verified {
		if _, dead := p.dead[ep]; dead {
			t.Errorf("%s is both verified and dead", ep)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		line string
		want Endpoint
		ok   bool
	}{
		{"1.2.3.4:8080", "1.2.3.4:8080", true},
		{"  1.2.3.4:0080  ", "1.2.3.4:80", true},
		{"1.2.3.4:8080 # comment", "1.2.3.4:8080", true},
		{"# comment", "", false},
		{"", "", false},
		{"1.2.3.4", "", false},
		{":8080", "", false},
		{"1.2.3.4:70000", "", false},
		{"1.2.3.4:abc", "", false},
		{"http://1.2.3.4:8080", "1.2.3.4:8080", true},
		{"https://1.2.3.4:443/", "1.2.3.4:443", true},
		{"socks5://1.2.3.4:1080", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseEndpoint(tt.line)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseEndpoint(%q) = %q, %v; want %q, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}

	if Endpoint("1.2.3.4:80").URL() != "http://1.2.3.4:80" {
		t.Error("URL() should prefix http://")
	}
	if Endpoint("1.2.3.4:80").Host() != "1.2.3.4" {
		t.Error("Host() should strip the port")
	}
}

func TestRefreshFromSourcesIsolatesFailures(t *testing.T) {
	good := &fakeSource{name: "good", eps: []Endpoint{"1.1.1.1:80", "2.2.2.2:80"}}
	dup := &fakeSource{name: "dup", eps: []Endpoint{"2.2.2.2:80", "3.3.3.3:80"}}
	bad := &fakeSource{name: "bad", err: errors.New("boom")}
	p := newTestPool(testConfig(), newFakeProber(), good, bad, dup)

	p.RefreshFromSources(context.Background())

	if got := p.Stats().Discovered; got != 3 {
		t.Errorf("Discovered = %d, want 3", got)
	}
	for _, s := range []*fakeSource{good, bad, dup} {
		if s.calls.Load() != 1 {
			t.Errorf("source %s called %d times", s.name, s.calls.Load())
		}
	}
	if p.Stats().LastRefresh.IsZero() {
		t.Error("LastRefresh not recorded")
	}
}

func TestRefreshFromSourcesReentry(t *testing.T) {
	src := &fakeSource{
		name:    "slow",
		eps:     []Endpoint{"1.1.1.1:80"},
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	prober := newFakeProber("9.9.9.9:80")
	p := newTestPool(testConfig(), prober, src)

	// 预置一个已验证代理
	p.mu.Lock()
	p.discovered["9.9.9.9:80"] = struct{}{}
	p.order = append(p.order, "9.9.9.9:80")
	p.mu.Unlock()
	if !p.Verify(context.Background(), "9.9.9.9:80") {
		t.Fatal("seed verify failed")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.RefreshFromSources(context.Background())
	}()
	<-src.entered

	got := p.RefreshFromSources(context.Background())
	if !slices.Equal(got, []Endpoint{"9.9.9.9:80"}) {
		t.Errorf("re-entrant refresh = %v, want current verified set", got)
	}
	if src.calls.Load() != 1 {
		t.Errorf("source fetched %d times, want 1", src.calls.Load())
	}

	close(src.block)
	<-done
}

func TestVerify(t *testing.T) {
	prober := newFakeProber("1.1.1.1:80")
	p := newTestPool(testConfig(), prober)
	ctx := context.Background()

	if !p.Verify(ctx, "1.1.1.1:80") {
		t.Error("alive proxy should verify")
	}
	if !p.Verify(ctx, "1.1.1.1:80") {
		t.Error("second verify should pass")
	}
	if got := p.Stats().Verified; got != 1 {
		t.Errorf("Verified = %d, want 1 (no duplicates)", got)
	}

	prober.set("1.1.1.1:80", false)
	if p.Verify(ctx, "1.1.1.1:80") {
		t.Error("dead proxy should fail")
	}
	stats := p.Stats()
	if stats.Verified != 0 || stats.Dead != 1 {
		t.Errorf("Stats = %+v, want verified 0 dead 1", stats)
	}
	assertDisjoint(t, p)
}

func TestDeadIsNeverReprobed(t *testing.T) {
	prober := newFakeProber()
	src := &fakeSource{name: "s", eps: []Endpoint{"6.6.6.6:80"}}
	p := newTestPool(testConfig(), prober, src)
	ctx := context.Background()

	if p.Verify(ctx, "6.6.6.6:80") {
		t.Fatal("expected failure")
	}
	prober.set("6.6.6.6:80", true)

	for i := 0; i < 3; i++ {
		if p.Verify(ctx, "6.6.6.6:80") {
			t.Error("dead endpoint must short-circuit to false")
		}
		if ep, ok := p.GetWorkingProxy(ctx); ok && ep == "6.6.6.6:80" {
			t.Error("GetWorkingProxy returned a dead endpoint")
		}
	}
	if got := prober.callsFor("6.6.6.6:80"); got != 1 {
		t.Errorf("dead endpoint probed %d times, want 1", got)
	}
}

func TestDeadCooldownExpires(t *testing.T) {
	cfg := testConfig()
	cfg.DeadCooldown = 60

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	prober := newFakeProber()
	p := NewPool(cfg, nil, prober, zap.NewNop(), WithRand(firstRand{}), WithClock(clock))
	ctx := context.Background()

	p.Verify(ctx, "7.7.7.7:80")
	prober.set("7.7.7.7:80", true)

	mu.Lock()
	now = now.Add(59 * time.Second)
	mu.Unlock()
	if p.Verify(ctx, "7.7.7.7:80") || !p.IsDead("7.7.7.7:80") {
		t.Error("endpoint should stay dead within cooldown")
	}

	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()
	if p.IsDead("7.7.7.7:80") {
		t.Error("cooldown should have expired")
	}
	if !p.Verify(ctx, "7.7.7.7:80") {
		t.Error("endpoint should be re-probed after cooldown")
	}
	if got := prober.callsFor("7.7.7.7:80"); got != 2 {
		t.Errorf("probed %d times, want 2", got)
	}
}

func TestVerifyCancelledContextDoesNotBlacklist(t *testing.T) {
	p := newTestPool(testConfig(), newFakeProber())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if p.Verify(ctx, "8.8.8.8:80") {
		t.Error("expected false")
	}
	if p.IsDead("8.8.8.8:80") {
		t.Error("cancelled probe should not blacklist")
	}
}

func TestConcurrentVerifyKeepsSetsDisjoint(t *testing.T) {
	eps := []Endpoint{"1.0.0.1:80", "1.0.0.2:80", "1.0.0.3:80"}
	flaky := &flakyProber{rnd: rand.New(rand.NewPCG(1, 2))}
	p := newTestPool(testConfig(), flaky)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Verify(context.Background(), eps[i%len(eps)])
		}(i)
	}
	wg.Wait()
	assertDisjoint(t, p)

	seen := make(map[Endpoint]bool)
	for _, v := range p.Verified() {
		if seen[v.Endpoint] {
			t.Errorf("%s duplicated in verified", v.Endpoint)
		}
		seen[v.Endpoint] = true
	}
}

type flakyProber struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (f *flakyProber) Check(ctx context.Context, ep Endpoint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rnd.IntN(2) == 0
}

func TestGetWorkingProxyColdStart(t *testing.T) {
	src := &fakeSource{name: "s", eps: []Endpoint{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80"}}
	prober := newFakeProber("2.2.2.2:80")
	p := newTestPool(testConfig(), prober, src)

	ep, ok := p.GetWorkingProxy(context.Background())
	if !ok || ep != "2.2.2.2:80" {
		t.Fatalf("GetWorkingProxy() = %q, %v", ep, ok)
	}
	if src.calls.Load() != 1 {
		t.Errorf("cold start should refresh once, got %d", src.calls.Load())
	}
	if !p.IsDead("1.1.1.1:80") {
		t.Error("failed candidate should be dead")
	}
	if prober.callsFor("3.3.3.3:80") != 0 {
		t.Error("sampling should stop at the first pass")
	}
}

func TestGetWorkingProxyReverifiesVerified(t *testing.T) {
	src := &fakeSource{name: "s", eps: []Endpoint{"1.1.1.1:80"}}
	prober := newFakeProber("1.1.1.1:80")
	p := newTestPool(testConfig(), prober, src)
	ctx := context.Background()

	if ep, ok := p.GetWorkingProxy(ctx); !ok || ep != "1.1.1.1:80" {
		t.Fatalf("first call = %q, %v", ep, ok)
	}
	if ep, ok := p.GetWorkingProxy(ctx); !ok || ep != "1.1.1.1:80" {
		t.Fatalf("second call = %q, %v", ep, ok)
	}
	if got := prober.callsFor("1.1.1.1:80"); got != 2 {
		t.Errorf("verified proxy should be re-checked on every call, probed %d times", got)
	}
}

func TestGetWorkingProxyBestEffortStale(t *testing.T) {
	src := &fakeSource{name: "s", eps: []Endpoint{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80"}}
	prober := newFakeProber("1.1.1.1:80", "2.2.2.2:80")
	p := newTestPool(testConfig(), prober, src)
	ctx := context.Background()

	p.RefreshFromSources(ctx)
	p.Verify(ctx, "1.1.1.1:80")
	p.Verify(ctx, "2.2.2.2:80")

	// 1 复验失败被剔除, 3 抽样失败, 最后返回未复验的 2
	prober.set("1.1.1.1:80", false)
	prober.set("2.2.2.2:80", false)

	ep, ok := p.GetWorkingProxy(ctx)
	if !ok || ep != "2.2.2.2:80" {
		t.Fatalf("GetWorkingProxy() = %q, %v; want stale 2.2.2.2:80", ep, ok)
	}
	if !p.IsDead("1.1.1.1:80") || !p.IsDead("3.3.3.3:80") {
		t.Error("failed endpoints should be dead")
	}
	if prober.callsFor("2.2.2.2:80") != 1 {
		t.Error("best-effort fallback must not re-verify")
	}
	assertDisjoint(t, p)
}

func TestGetWorkingProxyNone(t *testing.T) {
	var eps []Endpoint
	for i := 0; i < 20; i++ {
		eps = append(eps, Endpoint(fmt.Sprintf("10.0.0.%d:80", i+1)))
	}
	src := &fakeSource{name: "s", eps: eps}
	prober := newFakeProber()
	p := newTestPool(testConfig(), prober, src)

	if ep, ok := p.GetWorkingProxy(context.Background()); ok {
		t.Fatalf("GetWorkingProxy() = %q, want none", ep)
	}
	if got := prober.total(); got != 5 {
		t.Errorf("probed %d endpoints, want at most 5", got)
	}
}

func TestGetWorkingProxyNoSources(t *testing.T) {
	p := newTestPool(testConfig(), newFakeProber())
	if _, ok := p.GetWorkingProxy(context.Background()); ok {
		t.Error("expected no proxy")
	}
	if err := p.Validate(); err == nil {
		t.Error("Validate() should report missing sources")
	}
}

func TestCycleBoundedConcurrency(t *testing.T) {
	var eps []Endpoint
	for i := 0; i < 50; i++ {
		eps = append(eps, Endpoint(fmt.Sprintf("10.1.0.%d:80", i+1)))
	}
	cfg := testConfig()
	cfg.BatchSize = 20
	cfg.ProbeConcurrency = 4
	prober := newFakeProber(eps[:10]...)
	prober.delay = 5 * time.Millisecond
	p := newTestPool(cfg, prober, &fakeSource{name: "s", eps: eps})

	if err := p.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if got := prober.total(); got != 20 {
		t.Errorf("probed %d, want batch of 20", got)
	}
	if peak := prober.peak.Load(); peak > 4 {
		t.Errorf("peak concurrency %d exceeds limit 4", peak)
	}
	if got := p.Stats().Verified; got != 10 {
		t.Errorf("Verified = %d, want 10", got)
	}

	// verified 已达标, 不再探测
	before := prober.total()
	if err := p.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if prober.total() != before {
		t.Error("healthy pool should not probe")
	}
	assertDisjoint(t, p)
}

func TestCycleNoCandidates(t *testing.T) {
	p := newTestPool(testConfig(), newFakeProber(), &fakeSource{name: "empty"})
	if err := p.Cycle(context.Background()); err == nil {
		t.Error("expected error when nothing was discovered")
	}
}

type panicSource struct{}

func (panicSource) Name() string { return "panic" }

func (panicSource) Fetch(context.Context) ([]Endpoint, error) { panic("source exploded") }

type panicProber struct{}

func (panicProber) Check(context.Context, Endpoint) bool { panic("probe exploded") }

func TestRefreshRecoversSourcePanic(t *testing.T) {
	good := &fakeSource{name: "good", eps: []Endpoint{"1.1.1.1:80"}}
	p := newTestPool(testConfig(), newFakeProber(), panicSource{}, good)

	p.RefreshFromSources(context.Background())
	if got := p.Stats().Discovered; got != 1 {
		t.Errorf("Discovered = %d, want 1", got)
	}
}

func TestCycleRecoversProbePanic(t *testing.T) {
	src := &fakeSource{name: "s", eps: []Endpoint{"1.1.1.1:80"}}
	p := newTestPool(testConfig(), panicProber{}, src)

	if err := p.safeCycle(context.Background()); err == nil {
		t.Fatal("expected recovered panic as error")
	}
	if got := p.Stats().Verified; got != 0 {
		t.Errorf("Verified = %d", got)
	}
}

func TestStartStop(t *testing.T) {
	src := &fakeSource{name: "s", eps: []Endpoint{"1.1.1.1:80"}}
	p := newTestPool(testConfig(), newFakeProber("1.1.1.1:80"), src)

	p.Start(context.Background())
	p.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Verified == 0 {
		if time.Now().After(deadline) {
			t.Fatal("background loop did not verify anything")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !p.Stats().Running {
		t.Error("Running should be true")
	}

	p.Stop()
	if p.Stats().Running {
		t.Error("Running should be false after Stop")
	}
	if got := src.calls.Load(); got < 1 {
		t.Errorf("source called %d times", got)
	}
}

// emptyFirstSource 第一次拉取返回空列表, 之后返回 eps
type emptyFirstSource struct {
	eps   []Endpoint
	calls atomic.Int32
}

func (s *emptyFirstSource) Name() string { return "empty-first" }

func (s *emptyFirstSource) Fetch(ctx context.Context) ([]Endpoint, error) {
	if s.calls.Add(1) == 1 {
		return nil, nil
	}
	return s.eps, nil
}

// panicOnceProber 第一次探测 panic, 之后委托给 next
type panicOnceProber struct {
	next  Prober
	calls atomic.Int32
}

func (p *panicOnceProber) Check(ctx context.Context, ep Endpoint) bool {
	if p.calls.Add(1) == 1 {
		panic("probe exploded")
	}
	return p.next.Check(ctx, ep)
}

func TestRunContinuesAfterFailedCycle(t *testing.T) {
	const ep Endpoint = "1.1.1.1:80"

	tests := []struct {
		name   string
		source Source
		prober Prober
	}{
		{"no candidates", &emptyFirstSource{eps: []Endpoint{ep}}, newFakeProber(ep)},
		{"probe panic", &fakeSource{name: "s", eps: []Endpoint{ep}}, &panicOnceProber{next: newFakeProber(ep)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.RefreshInterval = 3600
			cfg.ErrorBackoff = 1
			p := newTestPool(cfg, tt.prober, tt.source)

			start := time.Now()
			p.Start(context.Background())
			defer p.Stop()

			// 第二轮只能在 ErrorBackoff 之后发生, 远早于 RefreshInterval
			deadline := start.Add(5 * time.Second)
			for p.Stats().Verified == 0 {
				if time.Now().After(deadline) {
					t.Fatal("loop did not recover from the failed cycle")
				}
				time.Sleep(20 * time.Millisecond)
			}
			if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
				t.Errorf("second cycle after %v, want it to wait for the error backoff", elapsed)
			}
			if !p.Stats().Running {
				t.Error("loop should still be running")
			}
		})
	}
}

func TestVerifiedCountry(t *testing.T) {
	prober := newFakeProber("8.8.8.8:3128")
	p := NewPool(testConfig(), nil, prober, zap.NewNop(), WithLocator(staticLocator{"8.8.8.8": "US"}))

	p.Verify(context.Background(), "8.8.8.8:3128")
	got := p.Verified()
	if len(got) != 1 || got[0].Country != "US" {
		t.Errorf("Verified() = %+v", got)
	}
}

type staticLocator map[string]string

func (s staticLocator) Country(host string) (string, error) {
	if c, ok := s[host]; ok {
		return c, nil
	}
	return "", errors.New("unknown")
}
