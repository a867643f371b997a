// Wfbot is a WeChat conversational bot.
//
// It connects to a wcferry gateway over WebSocket, relays chat messages
// through an OpenAI-compatible completion service with a small tool set
// (web search, page reading, daily news, chat summaries), and keeps a
// bounded per-conversation history. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	wfbot serve              Connect to the gateway and run the bot
//	wfbot ask <question>     Ask a single question (for testing)
//	wfbot version            Print version and build information
//	wfbot -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/zjy1412/wechatyferry-bot/internal/agent"
	"github.com/zjy1412/wechatyferry-bot/internal/buildinfo"
	"github.com/zjy1412/wechatyferry-bot/internal/config"
	"github.com/zjy1412/wechatyferry-bot/internal/fetch"
	"github.com/zjy1412/wechatyferry-bot/internal/history"
	"github.com/zjy1412/wechatyferry-bot/internal/llm"
	"github.com/zjy1412/wechatyferry-bot/internal/mqtt"
	"github.com/zjy1412/wechatyferry-bot/internal/prompt"
	"github.com/zjy1412/wechatyferry-bot/internal/queue"
	"github.com/zjy1412/wechatyferry-bot/internal/search"
	"github.com/zjy1412/wechatyferry-bot/internal/tools"
	"github.com/zjy1412/wechatyferry-bot/internal/wcferry"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the wfbot command. Arguments are
// parsed by hand; the flag package relies on package-level globals
// (flag.CommandLine), which makes it impossible to call run()
// concurrently from tests, and the argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: wfbot ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Wfbot - WeChat conversational bot")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: wfbot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Connect to the gateway and run the bot")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/wfbot/config.yaml, /etc/wfbot/config.yaml")
	return nil
}

// buildAgent wires the completion client, tool registry, history store,
// and prompt selector from config. Shared by serve and ask.
func buildAgent(cfg *config.Config, logger *slog.Logger) (*agent.Agent, *history.Store, error) {
	llmClient := llm.NewOpenAIClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, logger)

	store := history.NewStore(cfg.History.MaxMessages, llmClient, cfg.OpenAI.Model, logger)

	sel, err := prompt.NewSelector(cfg.Prompts.Default, cfg.Prompts.Templates, store)
	if err != nil {
		return nil, nil, err
	}

	registry := tools.NewRegistry(logger)

	if cfg.Search.Configured() {
		mgr := search.NewManager("searxng")
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNGURL))
		registry.Register(search.Tool(mgr))
		logger.Info("web search enabled", "searxng", cfg.Search.SearXNGURL)
	} else {
		logger.Warn("web search disabled (no searxng_url configured)")
	}

	registry.Register(fetch.ReadURLTool(fetch.New()))
	registry.Register(fetch.NewsTool())
	registry.Register(summarizeTool(store))

	logger.Info("tool registry initialized", "tools", registry.Names())

	return agent.New(llmClient, cfg.OpenAI.Model, registry, store, sel, logger), store, nil
}

// summarizeTool exposes the history store's summarizer as the
// summarize_chat tool. The conversation id comes from the dispatch
// context, not from model-supplied arguments, so the model cannot
// summarize someone else's chat. An empty conversation produces a
// friendly result rather than an error; asking for a summary of a fresh
// chat is a user mistake, not a system failure.
func summarizeTool(store *history.Store) *tools.Tool {
	return &tools.Tool{
		Name:        "summarize_chat",
		Description: "总结当前会话的聊天记录。当用户想回顾之前聊了什么时使用，不需要任何参数。",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			conv := tools.ConversationIDFromContext(ctx)
			if conv == "" {
				return "", fmt.Errorf("summarize_chat: no conversation in context")
			}

			summary, err := store.Summarize(ctx, conv)
			if err != nil {
				if errors.Is(err, history.ErrEmptyConversation) {
					return "这个会话还没有聊天记录。", nil
				}
				return "", err
			}
			return summary, nil
		},
	}
}

// runAsk handles the "wfbot ask <question>" subcommand: one agent turn
// against an in-memory conversation, printed to stdout. Useful for
// smoke-testing the completion service and tools without a gateway.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ag, _, err := buildAgent(cfg, logger)
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")
	reply := ag.Turn(ctx, "cli", question, "")
	fmt.Fprintln(stdout, reply)
	return nil
}

// runServe handles the "wfbot serve" subcommand, the primary operating
// mode. The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The gateway session and queue stop accepting work
//  3. History is snapshotted to disk
//  4. The MQTT publisher (when configured) goes offline
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting wfbot", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger only covers the startup
	// banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by config.Validate().
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"gateway", cfg.Gateway.URL,
		"model", cfg.OpenAI.Model,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	ag, store, err := buildAgent(cfg, logger)
	if err != nil {
		return err
	}

	// Restore the previous history snapshot so conversations survive
	// restarts. A broken snapshot must not keep the bot down; start
	// empty and leave the operator the log line.
	dbPath := filepath.Join(cfg.DataDir, "history.db")
	if err := store.Restore(dbPath); err != nil {
		logger.Error("history restore failed, starting with empty history",
			"path", dbPath, "error", err)
	}

	q := queue.New(cfg.Gateway.Workers, logger)

	bridge := wcferry.NewBridge("", cfg.Gateway.BotName, ag, q, logger)
	session := wcferry.NewSession(cfg.Gateway.URL, cfg.Gateway.MaxAttempts, cfg.Gateway.RetryDelay(), bridge, stdout, logger)

	// Signal handling: SIGINT/SIGTERM cancellation flows through the
	// same ctx used by every component.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		mqttPub = mqtt.New(cfg.MQTT, &statsAdapter{
			model:   cfg.OpenAI.Model,
			agent:   ag,
			store:   store,
			session: session,
		}, logger)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// Run the gateway session. Blocks until shutdown or until a retry
	// budget is exhausted.
	runErr := session.Run(ctx)

	// Stop accepting turns and let in-flight ones finish.
	q.Close()

	if err := store.Persist(dbPath); err != nil {
		logger.Error("history snapshot failed", "error", err)
	} else {
		logger.Info("history persisted", "path", dbPath)
	}

	if mqttPub != nil {
		offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := mqttPub.Stop(offlineCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
		offlineCancel()
	}

	if runErr != nil {
		return fmt.Errorf("gateway session: %w", runErr)
	}
	logger.Info("wfbot stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// statsAdapter bridges runtime components to the MQTT publisher's
// [mqtt.StatsSource] interface.
type statsAdapter struct {
	model   string
	agent   *agent.Agent
	store   *history.Store
	session *wcferry.Session
}

func (a *statsAdapter) Uptime() time.Duration { return buildinfo.Uptime() }
func (a *statsAdapter) Version() string       { return buildinfo.Version }
func (a *statsAdapter) SessionState() string  { return a.session.State().String() }
func (a *statsAdapter) Turns() int64          { return a.agent.TurnCount() }
func (a *statsAdapter) Conversations() int    { return len(a.store.Conversations()) }
func (a *statsAdapter) Model() string         { return a.model }
