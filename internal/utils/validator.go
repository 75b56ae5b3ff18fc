package utils

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// 分享链接常带的追踪参数, 对 yt-dlp 无意义
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "igshid", "si",
}

// IsValidURL 只接受带 host 的 http/https 绝对地址
func IsValidURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// NormalizeURL 去掉首尾空白、片段和追踪参数, 作为缓存键和提取输入
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

// DecodeQueryValue 对已解码一次的参数再解码一次, 兼容客户端双重编码
func DecodeQueryValue(v string) string {
	if !strings.Contains(v, "%") {
		return v
	}
	decoded, err := url.PathUnescape(v)
	if err != nil {
		return v
	}
	return decoded
}

// SanitizeString 合并连续空白
func SanitizeString(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate 截断过长的错误输出, 不切断多字节字符
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
