package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 运行环境
const (
	EnvLocal = "local"
	EnvCloud = "cloud"
)

// Config 应用配置
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	Cache        CacheConfig        `yaml:"cache"`
	YTDLP        YTDLPConfig        `yaml:"ytdlp"`
	Proxy        ProxyConfig        `yaml:"proxy"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	CORS         CORSConfig         `yaml:"cors"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port         int    `yaml:"port"`
	Mode         string `yaml:"mode"`          // debug / release
	ReadTimeout  int    `yaml:"read_timeout"`  // 秒
	WriteTimeout int    `yaml:"write_timeout"` // 秒
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	TTL     int  `yaml:"ttl"` // 缓存TTL(秒), 必须小于上游地址的有效期
}

// YTDLPConfig yt-dlp配置
type YTDLPConfig struct {
	BinaryPath    string   `yaml:"binary_path"`
	MaxConcurrent int      `yaml:"max_concurrent"` // 最大并发解析数
	CookieFile    string   `yaml:"cookie_file"`
	DefaultArgs   []string `yaml:"default_args"` // 默认参数
}

// SourceConfig 代理列表来源
type SourceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Kind string `yaml:"kind"` // lines / html_table
}

// ProxyConfig 代理池配置
type ProxyConfig struct {
	Sources          []SourceConfig `yaml:"sources"`
	SourceTimeout    int            `yaml:"source_timeout"`  // 秒
	ProbeURL         string         `yaml:"probe_url"`       // 回显接口, 返回含 origin 字段的 JSON
	ProbeTimeout     int            `yaml:"probe_timeout"`   // 秒
	ConnectTimeout   int            `yaml:"connect_timeout"` // 秒
	RefreshInterval  int            `yaml:"refresh_interval"`
	ErrorBackoff     int            `yaml:"error_backoff"`
	MinVerified      int            `yaml:"min_verified"`
	BatchSize        int            `yaml:"batch_size"`
	ProbeConcurrency int            `yaml:"probe_concurrency"`
	OnDemandSamples  int            `yaml:"on_demand_samples"`
	DeadCooldown     int            `yaml:"dead_cooldown"` // 秒, 0 表示永久拉黑
	BrowserTLS       bool           `yaml:"browser_tls"`   // 拉取列表时使用浏览器 TLS 指纹
	GeoIPPath        string         `yaml:"geoip_path"`
}

// OrchestratorConfig 解析编排配置
type OrchestratorConfig struct {
	Environment    string `yaml:"environment"` // local / cloud
	DirectAttempts int    `yaml:"direct_attempts"` // 0 取默认值, 负数跳过该阶段
	ProxyRounds    int    `yaml:"proxy_rounds"`    // 同上
	NoProxyBackoff int    `yaml:"no_proxy_backoff"` // 毫秒
	OverallTimeout int    `yaml:"overall_timeout"`  // 秒
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled   bool    `yaml:"enabled"`
	GlobalRPS float64 `yaml:"global_rps"`
	IPRPS     float64 `yaml:"ip_rps"`
	Burst     int     `yaml:"burst"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时忽略 (生产环境直接注入环境变量)
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回仅包含默认值的配置
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		c.Redis.Password = redisPassword
	}
	if bin := os.Getenv("YTDLP_BINARY"); bin != "" {
		c.YTDLP.BinaryPath = bin
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		c.Orchestrator.Environment = env
	}
	if geo := os.Getenv("GEOIP_DB"); geo != "" {
		c.Proxy.GeoIPPath = geo
	}
}

// applyDefaults 设置默认值
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "debug"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 300
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 300
	}

	if c.YTDLP.BinaryPath == "" {
		c.YTDLP.BinaryPath = "yt-dlp"
	}
	if c.YTDLP.MaxConcurrent == 0 {
		c.YTDLP.MaxConcurrent = 10
	}

	p := &c.Proxy
	if len(p.Sources) == 0 {
		p.Sources = DefaultSources()
	}
	for i := range p.Sources {
		if p.Sources[i].Kind == "" {
			p.Sources[i].Kind = "lines"
		}
	}
	if p.SourceTimeout == 0 {
		p.SourceTimeout = 10
	}
	if p.ProbeURL == "" {
		p.ProbeURL = "http://httpbin.org/ip"
	}
	if p.ProbeTimeout == 0 {
		p.ProbeTimeout = 5
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = 3
	}
	if p.RefreshInterval == 0 {
		p.RefreshInterval = 30
	}
	if p.ErrorBackoff == 0 {
		p.ErrorBackoff = 60
	}
	if p.MinVerified == 0 {
		p.MinVerified = 5
	}
	if p.BatchSize == 0 {
		p.BatchSize = 20
	}
	if p.ProbeConcurrency == 0 {
		p.ProbeConcurrency = 10
	}
	if p.OnDemandSamples == 0 {
		p.OnDemandSamples = 5
	}

	o := &c.Orchestrator
	if o.Environment == "" {
		o.Environment = EnvLocal
	}
	switch {
	case o.DirectAttempts < 0:
		o.DirectAttempts = 0
	case o.DirectAttempts == 0:
		o.DirectAttempts = 2
		if o.Environment == EnvCloud {
			o.DirectAttempts = 1
		}
	}
	switch {
	case o.ProxyRounds < 0:
		o.ProxyRounds = 0
	case o.ProxyRounds == 0:
		o.ProxyRounds = 3
		if o.Environment == EnvCloud {
			o.ProxyRounds = 5
		}
	}
	if o.NoProxyBackoff == 0 {
		o.NoProxyBackoff = 1000
	}
	if o.OverallTimeout == 0 {
		o.OverallTimeout = 240
	}

	if c.RateLimit.GlobalRPS == 0 {
		c.RateLimit.GlobalRPS = 50
	}
	if c.RateLimit.IPRPS == 0 {
		c.RateLimit.IPRPS = 2
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Orchestrator.Environment != EnvLocal && c.Orchestrator.Environment != EnvCloud {
		return fmt.Errorf("invalid orchestrator environment: %q", c.Orchestrator.Environment)
	}
	if c.Orchestrator.DirectAttempts < 0 || c.Orchestrator.ProxyRounds < 0 {
		return errors.New("orchestrator attempt counts must not be negative")
	}
	if c.Proxy.ProbeConcurrency < 1 {
		return errors.New("proxy probe_concurrency must be at least 1")
	}
	for _, s := range c.Proxy.Sources {
		if s.URL == "" {
			return fmt.Errorf("proxy source %q has no url", s.Name)
		}
		if s.Kind != "lines" && s.Kind != "html_table" {
			return fmt.Errorf("proxy source %q has unknown kind %q", s.Name, s.Kind)
		}
	}
	return nil
}

// DefaultSources 默认的公开代理列表
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{Name: "proxy-list.download", URL: "https://www.proxy-list.download/api/v1/get?type=http", Kind: "lines"},
		{Name: "TheSpeedX-HTTP", URL: "https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt", Kind: "lines"},
		{Name: "clarketm", URL: "https://raw.githubusercontent.com/clarketm/proxy-list/master/proxy-list-raw.txt", Kind: "lines"},
		{Name: "ShiftyTR-HTTP", URL: "https://raw.githubusercontent.com/ShiftyTR/Proxy-List/master/http.txt", Kind: "lines"},
	}
}

// GetCacheTTL 获取缓存TTL时间
func (c *CacheConfig) GetCacheTTL() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// GetReadTimeout 读超时
func (c *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

// GetWriteTimeout 写超时
func (c *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

// GetSourceTimeout 单个列表源的拉取超时
func (c *ProxyConfig) GetSourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeout) * time.Second
}

// GetProbeTimeout 单次存活探测的总超时
func (c *ProxyConfig) GetProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeout) * time.Second
}

// GetConnectTimeout 连接代理的超时
func (c *ProxyConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetRefreshInterval 后台刷新间隔
func (c *ProxyConfig) GetRefreshInterval() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Second
}

// GetErrorBackoff 刷新失败后的等待时间
func (c *ProxyConfig) GetErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoff) * time.Second
}

// GetDeadCooldown 失效代理的冷却时间, 0 表示永久
func (c *ProxyConfig) GetDeadCooldown() time.Duration {
	return time.Duration(c.DeadCooldown) * time.Second
}

// GetNoProxyBackoff 无可用代理时的等待时间
func (c *OrchestratorConfig) GetNoProxyBackoff() time.Duration {
	return time.Duration(c.NoProxyBackoff) * time.Millisecond
}

// GetOverallTimeout 整个解析流程的截止时间
func (c *OrchestratorConfig) GetOverallTimeout() time.Duration {
	return time.Duration(c.OverallTimeout) * time.Second
}
