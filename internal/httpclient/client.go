package httpclient

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// New 创建拉取代理列表用的客户端, browserTLS 为 true 时 https 请求使用 Chrome 指纹
func New(timeout time.Duration, browserTLS bool) *http.Client {
	if !browserTLS {
		return &http.Client{
			Transport: &http.Transport{
				DialContext:           ipv4DialContext,
				MaxIdleConns:          20,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
			},
			Timeout: timeout,
		}
	}
	return &http.Client{
		Transport: newUTLSRoundTripper(timeout),
		Timeout:   timeout,
	}
}

func ipv4DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "tcp" {
		network = "tcp4"
	}
	d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 60 * time.Second}
	return d.DialContext(ctx, network, addr)
}

// utlsRoundTripper 使用 utls 握手, 按协商结果走 h2 或 HTTP/1.1
type utlsRoundTripper struct {
	dialer      *net.Dialer
	h2Transport *http2.Transport
	plain       http.RoundTripper
}

func newUTLSRoundTripper(timeout time.Duration) *utlsRoundTripper {
	return &utlsRoundTripper{
		dialer: &net.Dialer{
			Timeout:   timeout,
			KeepAlive: 60 * time.Second,
		},
		h2Transport: &http2.Transport{},
		plain:       &http.Transport{DialContext: ipv4DialContext},
	}
}

// RoundTrip 以 Chrome 指纹握手, 按 ALPN 选择 h2 或 HTTP/1.1
func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}

	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = net.JoinHostPort(req.URL.Hostname(), "443")
	}

	conn, err := t.dialer.DialContext(req.Context(), "tcp4", addr)
	if err != nil {
		return nil, err
	}

	uconn := utls.UClient(conn, &utls.Config{ServerName: req.URL.Hostname()}, utls.HelloChrome_120)
	if err := uconn.HandshakeContext(req.Context()); err != nil {
		conn.Close()
		return nil, err
	}

	if uconn.ConnectionState().NegotiatedProtocol == "h2" {
		h2Conn, err := t.h2Transport.NewClientConn(uconn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		resp, err := h2Conn.RoundTrip(req)
		if err != nil {
			conn.Close()
			return nil, err
		}
		resp.Body = &connCloser{resp.Body, conn}
		return resp, nil
	}

	return doHTTP1(uconn, req)
}

func doHTTP1(conn net.Conn, req *http.Request) (*http.Response, error) {
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	resp.Body = &connCloser{resp.Body, conn}
	return resp, nil
}

// connCloser 读完响应后关闭底层连接
type connCloser struct {
	io.ReadCloser
	conn net.Conn
}

func (c *connCloser) Close() error {
	c.ReadCloser.Close()
	return c.conn.Close()
}

// SetBrowserHeaders 设置与 Chrome 指纹一致的请求头
func SetBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,text/plain,*/*;q=0.8")
	}
}
