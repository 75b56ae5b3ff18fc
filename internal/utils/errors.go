package utils

import (
	"errors"
	"strings"
)

var (
	// URL相关错误
	ErrInvalidURL = errors.New("invalid URL")

	// 不可重试的视频错误 (任何 profile 或代理都无法改变结果)
	ErrVideoNotFound  = errors.New("video unavailable")
	ErrVideoPrivate   = errors.New("video is private")
	ErrVideoDeleted   = errors.New("video has been deleted")
	ErrGeoRestricted  = errors.New("video is geo-restricted")
	ErrAgeRestricted  = errors.New("video is age-restricted")
	ErrCopyrightClaim = errors.New("video removed due to copyright claim")

	// 可重试的上游错误
	ErrBotChallenge     = errors.New("bot verification challenge")
	ErrRateLimited      = errors.New("rate limited by upstream")
	ErrTimeout          = errors.New("extraction timeout")
	ErrExtractFailed    = errors.New("extraction failed")
	ErrNoPlayableFormat = errors.New("no playable format")

	// 系统相关错误
	ErrCacheMiss     = errors.New("cache miss")
	ErrYTDLPNotFound = errors.New("yt-dlp binary not found")
	ErrNoProxy       = errors.New("no working proxy available")
	ErrExhausted     = errors.New("all extraction attempts exhausted")
)

var nonRetryable = []error{
	ErrInvalidURL,
	ErrVideoNotFound,
	ErrVideoPrivate,
	ErrVideoDeleted,
	ErrGeoRestricted,
	ErrAgeRestricted,
	ErrCopyrightClaim,
}

// MapYTDLPError 将yt-dlp的错误输出映射到具体错误
// 年龄限制、私有视频与机器人验证都可能包含 "sign in", 所以判断顺序不能调换
func MapYTDLPError(stderr string) error {
	lowerStderr := strings.ToLower(stderr)

	switch {
	case strings.Contains(lowerStderr, "no such file"),
		strings.Contains(lowerStderr, "executable file not found"):
		return ErrYTDLPNotFound
	case strings.Contains(lowerStderr, "confirm your age"),
		strings.Contains(lowerStderr, "age-restricted"):
		return ErrAgeRestricted
	case strings.Contains(lowerStderr, "private video"),
		strings.Contains(lowerStderr, "video is private"):
		return ErrVideoPrivate
	case strings.Contains(lowerStderr, "has been deleted"),
		strings.Contains(lowerStderr, "has been removed"):
		return ErrVideoDeleted
	case strings.Contains(lowerStderr, "available in your country"),
		strings.Contains(lowerStderr, "geo restricted"),
		strings.Contains(lowerStderr, "geo-restricted"):
		return ErrGeoRestricted
	case strings.Contains(lowerStderr, "copyright"):
		return ErrCopyrightClaim
	case strings.Contains(lowerStderr, "sign in"),
		strings.Contains(lowerStderr, "not a bot"),
		strings.Contains(lowerStderr, "captcha"),
		strings.Contains(lowerStderr, "verify"):
		return ErrBotChallenge
	case strings.Contains(lowerStderr, "http error 429"),
		strings.Contains(lowerStderr, "too many requests"):
		return ErrRateLimited
	case strings.Contains(lowerStderr, "service unavailable"),
		strings.Contains(lowerStderr, "temporarily unavailable"):
		return ErrExtractFailed
	case strings.Contains(lowerStderr, "video unavailable"),
		strings.Contains(lowerStderr, "video is unavailable"),
		strings.Contains(lowerStderr, "isn't available"):
		return ErrVideoNotFound
	case strings.Contains(lowerStderr, "unsupported url"):
		return ErrInvalidURL
	case strings.Contains(lowerStderr, "timed out") || strings.Contains(lowerStderr, "timeout"):
		return ErrTimeout
	default:
		return ErrExtractFailed
	}
}

// IsRetryable 判断错误是否值得换 profile/代理重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsFatal(err) {
		return false
	}
	for _, target := range nonRetryable {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}

// IsFatal 本地环境故障, 重试没有意义
func IsFatal(err error) bool {
	return errors.Is(err, ErrYTDLPNotFound)
}
