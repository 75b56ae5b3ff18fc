package sources

import (
	"bufio"
	"context"
	"fmt"
	"net/http"

	"vasset/extractor-service/internal/httpclient"
	"vasset/extractor-service/internal/proxy"
)

// LineListSource 每行一个 host:port 的纯文本列表
type LineListSource struct {
	name   string
	url    string
	client *http.Client
}

// NewLineListSource 创建纯文本列表源
func NewLineListSource(name, url string, client *http.Client) *LineListSource {
	return &LineListSource{name: name, url: url, client: client}
}

// Name 来源名称
func (s *LineListSource) Name() string {
	return s.name
}

// Fetch 拉取列表, 每行一个 host:port
func (s *LineListSource) Fetch(ctx context.Context) ([]proxy.Endpoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpclient.SetBrowserHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var endpoints []proxy.Endpoint
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if ep, ok := proxy.ParseEndpoint(scanner.Text()); ok {
			endpoints = append(endpoints, ep)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan error: %w", err)
	}
	return endpoints, nil
}
