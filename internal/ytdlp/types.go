package ytdlp

import "time"

// 编解码器字段为 "none" 表示该流不包含此类轨道
const codecNone = "none"

// VideoInfo yt-dlp返回的视频信息
type VideoInfo struct {
	ID               string   `json:"id"`
	URL              string   `json:"url"`
	Title            string   `json:"title"`
	Duration         *float64 `json:"duration"`
	Uploader         string   `json:"uploader"`
	Thumbnail        string   `json:"thumbnail"`
	ViewCount        *int64   `json:"view_count"`
	RequestedFormats []Format `json:"requested_formats"`
	Formats          []Format `json:"formats"`
}

// Format yt-dlp返回的单个格式
type Format struct {
	FormatID       string  `json:"format_id"`
	URL            string  `json:"url"`
	Ext            string  `json:"ext"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	TBR            float64 `json:"tbr"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

// HasVideo 未知编解码器视为存在
func (f Format) HasVideo() bool {
	return f.VCodec != codecNone
}

// HasAudio 未知编解码器视为存在
func (f Format) HasAudio() bool {
	return f.ACodec != codecNone
}

// Size 优先使用精确大小
func (f Format) Size() int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}
	return f.FilesizeApprox
}

// Header 单个请求头
type Header struct {
	Name  string
	Value string
}

// Options 单次提取的请求参数
type Options struct {
	Format        string
	UserAgent     string
	Headers       []Header
	PlayerClients []string
	PlayerSkip    []string
	SkipProtocols []string // dash / hls
	SocketTimeout time.Duration
	Proxy         string
}
