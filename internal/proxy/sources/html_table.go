package sources

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"vasset/extractor-service/internal/httpclient"
	"vasset/extractor-service/internal/proxy"
)

// HTMLTableSource 解析网页表格形式的代理列表, 第一列 IP, 第二列端口
type HTMLTableSource struct {
	name     string
	url      string
	selector string
	client   *http.Client
}

// NewHTMLTableSource 创建 HTML 表格列表源
func NewHTMLTableSource(name, url string, client *http.Client) *HTMLTableSource {
	return &HTMLTableSource{
		name:     name,
		url:      url,
		selector: "table tbody tr",
		client:   client,
	}
}

// Name 来源名称
func (s *HTMLTableSource) Name() string {
	return s.name
}

// Fetch 拉取页面并解析表格中的 IP 和端口
func (s *HTMLTableSource) Fetch(ctx context.Context) ([]proxy.Endpoint, error) {
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

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML document: %w", err)
	}

	var endpoints []proxy.Endpoint
	doc.Find(s.selector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		ip := strings.TrimSpace(cells.Eq(0).Text())
		port := strings.TrimSpace(cells.Eq(1).Text())
		if net.ParseIP(ip) == nil {
			return
		}
		if ep, ok := proxy.ParseEndpoint(net.JoinHostPort(ip, port)); ok {
			endpoints = append(endpoints, ep)
		}
	})
	return endpoints, nil
}
