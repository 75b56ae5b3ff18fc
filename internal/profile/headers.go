package profile

import "vasset/extractor-service/internal/ytdlp"

// HeaderBundle 一组请求头
type HeaderBundle struct {
	ID        string
	UserAgent string
	Extra     []ytdlp.Header
}

var browserHeaders = []ytdlp.Header{
	{Name: "Accept", Value: "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
	{Name: "Accept-Language", Value: "en-US,en;q=0.5"},
	{Name: "DNT", Value: "1"},
	{Name: "Upgrade-Insecure-Requests", Value: "1"},
	{Name: "Sec-Fetch-Dest", Value: "document"},
	{Name: "Sec-Fetch-Mode", Value: "navigate"},
	{Name: "Sec-Fetch-Site", Value: "none"},
}

var defaultBundles = []HeaderBundle{
	{ID: "chrome-win", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", Extra: browserHeaders},
	{ID: "chrome-win-old", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.107 Safari/537.36", Extra: browserHeaders},
	{ID: "chrome-mac", UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", Extra: browserHeaders},
	{ID: "chrome-linux", UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", Extra: browserHeaders},
	{ID: "firefox-win", UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0", Extra: browserHeaders},
}
