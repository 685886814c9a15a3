package subscription

import (
	"encoding/base64"
	"strings"

	"github.com/mybrohigh/Xpert/internal/model"
)

// Format selects the wire encoding of a published feed.
type Format string

const (
	FormatUniversal Format = "universal"
	FormatBase64    Format = "base64"
)

// ParseFormat maps the query value to a Format. Empty means universal.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(FormatUniversal):
		return FormatUniversal, true
	case string(FormatBase64):
		return FormatBase64, true
	}
	return "", false
}

// FeedLines collects the raw links to publish: active aggregated configs
// first, then active direct configs, both in stored order.
func FeedLines(aggregated []model.AggregatedConfig, direct []model.DirectConfig) []string {
	lines := make([]string, 0, len(aggregated)+len(direct))
	for _, cfg := range aggregated {
		if cfg.IsActive {
			lines = append(lines, cfg.Raw)
		}
	}
	for _, cfg := range direct {
		if cfg.IsActive {
			lines = append(lines, cfg.Raw)
		}
	}
	return lines
}

// BuildFeed renders the feed body, base64-wrapping the whole text when
// asked.
func BuildFeed(lines []string, format Format) string {
	body := strings.Join(lines, "\n")
	if format == FormatBase64 {
		return base64.StdEncoding.EncodeToString([]byte(body))
	}
	return body
}

// ProfileTitle renders a subscription title header value. Plain ASCII
// passes through; anything else is carried in the base64-tagged form
// clients understand.
func ProfileTitle(title string) string {
	for _, r := range title {
		if r > 0x7f {
			return "base64:" + base64.StdEncoding.EncodeToString([]byte(title))
		}
	}
	return title
}
