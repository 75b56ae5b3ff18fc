package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"vasset/extractor-service/internal/config"
	"vasset/extractor-service/internal/utils"
)

// runFunc 执行外部命令, 返回标准输出与标准错误
type runFunc func(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)

// Wrapper yt-dlp命令封装器
type Wrapper struct {
	binaryPath  string
	cookieFile  string
	defaultArgs []string
	run         runFunc
}

// NewWrapper 创建yt-dlp封装器
func NewWrapper(cfg *config.YTDLPConfig) *Wrapper {
	return &Wrapper{
		binaryPath:  cfg.BinaryPath,
		cookieFile:  cfg.CookieFile,
		defaultArgs: cfg.DefaultArgs,
		run:         execRun,
	}
}

func execRun(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// buildArgs 构建命令参数
func (w *Wrapper) buildArgs(url string, opts Options) []string {
	args := []string{
		"--dump-json",
		"--skip-download",
		"--no-warnings",
		"--retries", "0",
		"--fragment-retries", "0",
	}

	// 添加默认参数 (排除代理相关, 代理由本次调用决定)
	for i := 0; i < len(w.defaultArgs); i++ {
		if w.defaultArgs[i] == "--proxy" && i+1 < len(w.defaultArgs) {
			i++
			continue
		}
		args = append(args, w.defaultArgs[i])
	}

	if opts.Format != "" {
		args = append(args, "--format", opts.Format)
	}
	if opts.SocketTimeout > 0 {
		secs := int(opts.SocketTimeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		args = append(args, "--socket-timeout", strconv.Itoa(secs))
	}
	if opts.UserAgent != "" {
		args = append(args, "--user-agent", opts.UserAgent)
	}
	for _, h := range opts.Headers {
		args = append(args, "--add-header", h.Name+":"+h.Value)
	}
	if ea := extractorArgs(opts); ea != "" {
		args = append(args, "--extractor-args", ea)
	}
	if opts.Proxy != "" {
		args = append(args, "--proxy", opts.Proxy)
	}

	// 添加 cookie 文件 (如果存在)
	if w.cookieFile != "" {
		if _, err := os.Stat(w.cookieFile); err == nil {
			args = append(args, "--cookies", w.cookieFile)
		}
	}

	args = append(args, url)
	return args
}

// extractorArgs 客户端模拟参数, 形如 youtube:player_client=android,web;skip=dash,hls
func extractorArgs(opts Options) string {
	var parts []string
	if len(opts.PlayerClients) > 0 {
		parts = append(parts, "player_client="+strings.Join(opts.PlayerClients, ","))
	}
	if len(opts.PlayerSkip) > 0 {
		parts = append(parts, "player_skip="+strings.Join(opts.PlayerSkip, ","))
	}
	if len(opts.SkipProtocols) > 0 {
		parts = append(parts, "skip="+strings.Join(opts.SkipProtocols, ","))
	}
	if len(parts) == 0 {
		return ""
	}
	return "youtube:" + strings.Join(parts, ";")
}

// Extract 提取视频信息, 超时由调用方的 ctx 控制
func (w *Wrapper) Extract(ctx context.Context, url string, opts Options) (*VideoInfo, error) {
	args := w.buildArgs(url, opts)

	stdout, stderr, err := w.run(ctx, w.binaryPath, args)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, utils.ErrTimeout
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, exec.ErrNotFound):
			return nil, utils.ErrYTDLPNotFound
		}
		// 映射yt-dlp错误
		msg := strings.TrimSpace(string(stderr))
		return nil, fmt.Errorf("%w: %s", utils.MapYTDLPError(msg), utils.Truncate(msg, 300))
	}

	var info VideoInfo
	if err := json.Unmarshal(stdout, &info); err != nil {
		return nil, fmt.Errorf("%w: failed to parse yt-dlp output: %v", utils.ErrExtractFailed, err)
	}

	return &info, nil
}
