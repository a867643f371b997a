package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zjy1412/wechatyferry-bot/internal/httpkit"
	"github.com/zjy1412/wechatyferry-bot/internal/tools"
)

// newsEndpoint is the daily "60 seconds to read the world" digest API.
// The tool takes no arguments; whatever the model passes is ignored.
const newsEndpoint = "https://60s.viki.moe/v2/60s"

// ReadURLTool returns the read_url tool definition backed by the fetcher.
func ReadURLTool(f *Fetcher) *tools.Tool {
	return &tools.Tool{
		Name:        "read_url",
		Description: "读取网页内容。传入一个 URL，返回提取出的正文文本。",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "要读取的网页地址。",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("read_url: parse arguments: %w", err)
			}

			result, err := f.Fetch(ctx, in.URL, 0)
			if err != nil {
				return "", err
			}

			var b strings.Builder
			if result.Title != "" {
				fmt.Fprintf(&b, "标题：%s\n\n", result.Title)
			}
			b.WriteString(result.Content)
			if result.Truncated {
				b.WriteString("\n\n（内容过长，已截断）")
			}
			return b.String(), nil
		},
	}
}

// newsResponse is the JSON body from the daily digest API.
type newsResponse struct {
	Code int `json:"code"`
	Data struct {
		Date string   `json:"date"`
		News []string `json:"news"`
		Tip  string   `json:"tip"`
	} `json:"data"`
}

// NewsTool returns the get_today_news tool. The endpoint is fixed; the
// arguments object the model sends is accepted and discarded.
func NewsTool() *tools.Tool {
	client := httpkit.NewClient(httpkit.WithTimeout(15 * time.Second))

	return &tools.Tool{
		Name:        "get_today_news",
		Description: "获取今日新闻摘要（每天 60 秒读懂世界）。不需要任何参数。",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, newsEndpoint, nil)
			if err != nil {
				return "", fmt.Errorf("get_today_news: build request: %w", err)
			}
			req.Header.Set("Accept", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("get_today_news: request failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body := httpkit.ReadErrorBody(resp.Body, 512)
				return "", fmt.Errorf("get_today_news: HTTP %d: %s", resp.StatusCode, body)
			}

			var nr newsResponse
			if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
				return "", fmt.Errorf("get_today_news: decode response: %w", err)
			}
			if len(nr.Data.News) == 0 {
				return "", fmt.Errorf("get_today_news: empty digest")
			}

			return FormatNews(nr.Data.Date, nr.Data.News, nr.Data.Tip), nil
		},
	}
}

// FormatNews renders the daily digest as a numbered list.
func FormatNews(date string, items []string, tip string) string {
	var b strings.Builder
	if date != "" {
		fmt.Fprintf(&b, "%s 每日新闻：\n", date)
	}
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	if tip != "" {
		fmt.Fprintf(&b, "\n【微语】%s", tip)
	}
	return strings.TrimRight(b.String(), "\n")
}
