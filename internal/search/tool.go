package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zjy1412/wechatyferry-bot/internal/tools"
)

// Tool returns the search_internet tool definition backed by the manager.
// The model supplies a keyword list; the keywords are joined into a
// single query for the provider.
func Tool(mgr *Manager) *tools.Tool {
	return &tools.Tool{
		Name:        "search_internet",
		Description: "联网搜索。当需要实时信息或你不了解的内容时使用，传入搜索关键词列表。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"keywords": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "搜索关键词列表，例如 [\"天气\", \"北京\"]。",
				},
			},
			"required": []string{"keywords"},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Keywords []string `json:"keywords"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("search_internet: parse arguments: %w", err)
			}
			if len(in.Keywords) == 0 {
				return "", fmt.Errorf("search_internet: keywords is required")
			}

			query := strings.Join(in.Keywords, " ")
			results, err := mgr.Search(ctx, query, Options{Count: 5, Language: "zh"})
			if err != nil {
				return "", err
			}
			return FormatResults(results), nil
		},
	}
}
