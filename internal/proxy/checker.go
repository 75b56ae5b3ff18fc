package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Checker 通过代理请求回显接口判断代理是否可用
type Checker struct {
	probeURL       string
	timeout        time.Duration
	connectTimeout time.Duration
}

// NewChecker 创建探测器
func NewChecker(probeURL string, timeout, connectTimeout time.Duration) *Checker {
	return &Checker{
		probeURL:       probeURL,
		timeout:        timeout,
		connectTimeout: connectTimeout,
	}
}

type echoBody struct {
	Origin string `json:"origin"`
}

// Check 只认 200 且响应体是带 origin 字段的 JSON
func (c *Checker) Check(ctx context.Context, ep Endpoint) bool {
	proxyURL, err := url.Parse(ep.URL())
	if err != nil {
		return false
	}

	dialer := &net.Dialer{Timeout: c.connectTimeout}
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyURL(proxyURL),
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: c.connectTimeout,
			DisableKeepAlives:   true,
		},
		Timeout: c.timeout,
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var body echoBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return false
	}
	return body.Origin != ""
}
