package profile

import (
	"math/rand/v2"
	"sync"
	"time"

	"vasset/extractor-service/internal/ytdlp"
)

// Tier 最大分辨率档位
type Tier string

const (
	TierHigh      Tier = "high_quality"
	TierStandard  Tier = "standard"
	TierLow       Tier = "low_quality"
	TierSimple    Tier = "simple"
	TierAudioOnly Tier = "audio_only"
	TierMinimal   Tier = "minimal"
)

// Client 客户端模拟标签
type Client string

const (
	ClientAndroidWeb Client = "android,web"
	ClientWeb        Client = "web"
)

// Mode 选择环境
type Mode int

const (
	ModeDirect      Mode = iota // 直连, 全部档位
	ModeConstrained             // 经代理, 代理慢, 只用中低档位
)

// Profile 单次提取的请求指纹
type Profile struct {
	Name           Tier
	Format         string
	Client         Client
	SkipProtocols  []string
	SocketTimeout  time.Duration
	AttemptTimeout time.Duration
	Headers        HeaderBundle
}

// Options 转换为 yt-dlp 参数
func (p Profile) Options(proxyURL string) ytdlp.Options {
	opts := ytdlp.Options{
		Format:        p.Format,
		UserAgent:     p.Headers.UserAgent,
		Headers:       p.Headers.Extra,
		SkipProtocols: p.SkipProtocols,
		SocketTimeout: p.SocketTimeout,
		Proxy:         proxyURL,
	}
	if p.Client == ClientAndroidWeb {
		opts.PlayerClients = []string{"android", "web"}
		opts.PlayerSkip = []string{"webpage"}
	} else {
		opts.PlayerClients = []string{string(p.Client)}
	}
	return opts
}

var catalog = map[Tier]Profile{
	TierHigh:      {Name: TierHigh, Format: "best[height<=1080]/best", Client: ClientAndroidWeb, SocketTimeout: 15 * time.Second, AttemptTimeout: 45 * time.Second},
	TierStandard:  {Name: TierStandard, Format: "best[height<=720]/best", Client: ClientAndroidWeb, SocketTimeout: 15 * time.Second, AttemptTimeout: 45 * time.Second},
	TierLow:       {Name: TierLow, Format: "best[height<=480]/best", Client: ClientAndroidWeb, SocketTimeout: 15 * time.Second, AttemptTimeout: 40 * time.Second},
	TierSimple:    {Name: TierSimple, Format: "best[height<=720]/best", Client: ClientAndroidWeb, SkipProtocols: []string{"dash", "hls"}, SocketTimeout: 15 * time.Second, AttemptTimeout: 30 * time.Second},
	TierAudioOnly: {Name: TierAudioOnly, Format: "bestaudio/best", Client: ClientAndroidWeb, SocketTimeout: 15 * time.Second, AttemptTimeout: 30 * time.Second},
	TierMinimal:   {Name: TierMinimal, Format: "worst", Client: ClientWeb, SkipProtocols: []string{"dash", "hls"}, SocketTimeout: 10 * time.Second, AttemptTimeout: 30 * time.Second},
}

var order = map[Mode][]Tier{
	ModeDirect:      {TierHigh, TierStandard, TierLow, TierSimple, TierAudioOnly},
	ModeConstrained: {TierStandard, TierLow, TierSimple, TierAudioOnly},
}

// Rand 可注入的随机源, *rand.Rand 满足此接口
type Rand interface {
	IntN(n int) int
}

// Selector 无状态的 profile 选择器, 只有请求头是随机的
type Selector struct {
	mu      sync.Mutex
	rnd     Rand
	bundles []HeaderBundle
}

// NewSelector 创建选择器, rnd 为 nil 时使用全局随机源
func NewSelector(rnd Rand) *Selector {
	return &Selector{rnd: rnd, bundles: defaultBundles}
}

// Select 返回第 index 个 profile, 目录耗尽时 ok 为 false
func (s *Selector) Select(index int, mode Mode) (Profile, bool) {
	tiers := order[mode]
	if index < 0 || index >= len(tiers) {
		return Profile{}, false
	}
	return s.withHeaders(catalog[tiers[index]]), true
}

// Len 该模式下的目录长度
func (s *Selector) Len(mode Mode) int {
	return len(order[mode])
}

// LastResort 最低质量、最简单客户端的兜底 profile
func (s *Selector) LastResort() Profile {
	return s.withHeaders(catalog[TierMinimal])
}

func (s *Selector) withHeaders(p Profile) Profile {
	p.Headers = s.bundles[s.intN(len(s.bundles))]
	return p
}

func (s *Selector) intN(n int) int {
	if s.rnd == nil {
		return rand.IntN(n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.IntN(n)
}
