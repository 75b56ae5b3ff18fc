package sources

import (
	"net/http"

	"vasset/extractor-service/internal/config"
	"vasset/extractor-service/internal/proxy"
)

// FromConfig 按配置构造所有来源
func FromConfig(cfgs []config.SourceConfig, client *http.Client) []proxy.Source {
	out := make([]proxy.Source, 0, len(cfgs))
	for _, c := range cfgs {
		switch c.Kind {
		case "html_table":
			out = append(out, NewHTMLTableSource(c.Name, c.URL, client))
		default:
			out = append(out, NewLineListSource(c.Name, c.URL, client))
		}
	}
	return out
}
