package resolver

import (
	"vasset/extractor-service/internal/utils"
	"vasset/extractor-service/internal/ytdlp"
)

const defaultTitle = "Untitled"

// MediaDescriptor 对外返回的解析结果
type MediaDescriptor struct {
	DownloadURL string   `json:"download_url"`
	AudioURL    string   `json:"audio_url,omitempty"`
	Title       string   `json:"title"`
	Duration    *float64 `json:"duration"`
	ViewCount   *int64   `json:"view_count"`
	Uploader    string   `json:"uploader"`
	Thumbnail   string   `json:"thumbnail"`
}

// Resolve 按固定优先级选择播放地址
func Resolve(info *ytdlp.VideoInfo) (*MediaDescriptor, error) {
	if info == nil {
		return nil, utils.ErrNoPlayableFormat
	}

	videoURL, audioURL, ok := pickStreams(info)
	if !ok {
		return nil, utils.ErrNoPlayableFormat
	}

	title := utils.SanitizeString(info.Title)
	if title == "" {
		title = defaultTitle
	}

	return &MediaDescriptor{
		DownloadURL: videoURL,
		AudioURL:    audioURL,
		Title:       title,
		Duration:    info.Duration,
		ViewCount:   info.ViewCount,
		Uploader:    utils.SanitizeString(info.Uploader),
		Thumbnail:   info.Thumbnail,
	}, nil
}

func pickStreams(info *ytdlp.VideoInfo) (string, string, bool) {
	// 1. 顶层直链
	if info.URL != "" {
		return info.URL, "", true
	}

	// 2. 分离的音视频流; 没有视频流时退回完整格式列表
	if len(info.RequestedFormats) > 0 {
		if v, a, ok := pickRequested(info.RequestedFormats); ok {
			return v, a, true
		}
	}

	// 3. 完整格式列表
	if best, ok := BestFormat(info.Formats); ok {
		return best.URL, "", true
	}
	return "", "", false
}

func pickRequested(formats []ytdlp.Format) (string, string, bool) {
	video, audio := -1, -1
	for i, f := range formats {
		if f.URL == "" {
			continue
		}
		if video < 0 && f.HasVideo() {
			video = i
		}
		if audio < 0 && f.HasAudio() {
			audio = i
		}
	}
	if video < 0 {
		return "", "", false
	}

	// 同一个流已经带音轨时不再单独返回音频地址
	audioURL := ""
	if audio >= 0 && audio != video {
		audioURL = formats[audio].URL
	}
	return formats[video].URL, audioURL, true
}

// BestFormat 优先音视频合一的格式, 其次纯视频; 按高度、码率、大小降序, 相同时取先出现的
func BestFormat(formats []ytdlp.Format) (ytdlp.Format, bool) {
	var combined, videoOnly []ytdlp.Format
	for _, f := range formats {
		if f.URL == "" || !f.HasVideo() {
			continue
		}
		if f.HasAudio() {
			combined = append(combined, f)
		} else {
			videoOnly = append(videoOnly, f)
		}
	}

	candidates := combined
	if len(candidates) == 0 {
		candidates = videoOnly
	}
	if len(candidates) == 0 {
		return ytdlp.Format{}, false
	}

	best := candidates[0]
	for _, f := range candidates[1:] {
		if better(f, best) {
			best = f
		}
	}
	return best, true
}

// better 严格大于才替换, 保证先出现者胜出
func better(a, b ytdlp.Format) bool {
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	if a.TBR != b.TBR {
		return a.TBR > b.TBR
	}
	return a.Size() > b.Size()
}
