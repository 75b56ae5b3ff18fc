package proxy

import (
	"context"
	"net"
	"strconv"
	"strings"
)

// Endpoint host:port 形式的 HTTP 代理地址
type Endpoint string

// URL 供 yt-dlp --proxy 和 http.Transport 使用
func (e Endpoint) URL() string {
	return "http://" + string(e)
}

// Host 去掉端口的主机部分
func (e Endpoint) Host() string {
	host, _, err := net.SplitHostPort(string(e))
	if err != nil {
		return string(e)
	}
	return host
}

// ParseEndpoint 解析列表中的一行, 允许 http:// 前缀; 注释、空行和端口非法的行返回 false
func ParseEndpoint(line string) (Endpoint, bool) {
	line, _, _ = strings.Cut(line, "#")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}

	addr := strings.TrimPrefix(fields[0], "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimSuffix(addr, "/")

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return "", false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", false
	}
	return Endpoint(net.JoinHostPort(host, strconv.Itoa(port))), true
}

// Source 代理列表来源
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Endpoint, error)
}

// Prober 代理存活探测
type Prober interface {
	Check(ctx context.Context, ep Endpoint) bool
}

// Locator 代理所在国家查询, 可选
type Locator interface {
	Country(host string) (string, error)
}

// Rand 可注入的随机源
type Rand interface {
	IntN(n int) int
}
