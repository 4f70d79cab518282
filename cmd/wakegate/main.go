// WakeGate - Group-chat wake decision gateway
// License: MIT
//
// Copyright (c) 2026 WakeGate contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/wakegate/pkg/agent"
	"github.com/dotsetgreg/wakegate/pkg/bus"
	"github.com/dotsetgreg/wakegate/pkg/channels"
	"github.com/dotsetgreg/wakegate/pkg/config"
	"github.com/dotsetgreg/wakegate/pkg/history"
	"github.com/dotsetgreg/wakegate/pkg/logger"
	"github.com/dotsetgreg/wakegate/pkg/maintenance"
	"github.com/dotsetgreg/wakegate/pkg/providers"
	"github.com/dotsetgreg/wakegate/pkg/sentiment"
	"github.com/dotsetgreg/wakegate/pkg/similarity"
	"github.com/dotsetgreg/wakegate/pkg/state"
	"github.com/dotsetgreg/wakegate/pkg/topics"
	"github.com/dotsetgreg/wakegate/pkg/wake"
	"github.com/google/uuid"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "wakegate"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info
func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		os.Exit(1)
	}
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wakegate", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func validateRuntimeConfig(cfg *config.Config, requireDiscord bool) error {
	configPath := getConfigPath()
	if strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) == "" {
		return fmt.Errorf("providers.openrouter.api_key is required in %s or WAKEGATE_PROVIDERS_OPENROUTER_API_KEY", configPath)
	}
	if requireDiscord && strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		return fmt.Errorf("channels.discord.token is required in %s or WAKEGATE_CHANNELS_DISCORD_TOKEN", configPath)
	}
	return nil
}

func onboard() {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Printf("Error reading input: %v\n", readErr)
			fmt.Println("Aborted.")
			return
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your API key to", configPath)
	fmt.Println("     Get one at: https://openrouter.ai/keys")
	fmt.Println("  2. Add your Discord bot token to channels.discord.token")
	fmt.Println("  3. Tune engine thresholds under the engine section")
	fmt.Println("  4. Try decisions locally: wakegate simulate")
	fmt.Println("  5. Run the gateway: wakegate gateway")
	fmt.Println("  6. Check readiness: wakegate status")
}

// buildEvaluator wires the full decision pipeline: shared topic cache,
// similarity and sentiment scorers, history-backed relevance, and the
// canned-reply responder when a provider is available.
func buildEvaluator(cfg *config.Config, provider providers.LLMProvider, store *history.SQLiteStore) (*wake.Evaluator, *topics.Cache) {
	cache := topics.NewCache(topics.DefaultCapacity)

	deps := wake.Deps{
		Store:      state.NewStore(),
		Similarity: similarity.NewScorer(cache),
		Sentiment:  sentiment.NewLexiconScorer(),
	}
	if store != nil {
		deps.History = store
	}
	if provider != nil {
		deps.Responder = agent.NewCannedResponder(cfg, provider, store)
	}

	return wake.NewEvaluator(cfg.Engine, cfg.Persona, deps), cache
}

func gatewayCmd() {
	args := os.Args[2:]
	for _, arg := range args {
		if arg == "--debug" || arg == "-d" {
			logger.SetLevel(logger.DEBUG)
			fmt.Println("🔍 Debug mode enabled")
			break
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := validateRuntimeConfig(cfg, true); err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		fmt.Printf("Error creating provider: %v\n", err)
		os.Exit(1)
	}

	store, err := history.NewSQLiteStore(cfg.HistoryDBPath())
	if err != nil {
		fmt.Printf("Error opening history database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	msgBus := bus.NewMessageBus()
	evaluator, cache := buildEvaluator(cfg, provider, store)
	loop := agent.NewLoop(cfg, msgBus, evaluator, provider, store)

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		fmt.Printf("Error creating channel manager: %v\n", err)
		os.Exit(1)
	}

	scheduler, err := maintenance.NewScheduler(cfg.Maintenance, evaluator.Store(), cache)
	if err != nil {
		fmt.Printf("Error creating maintenance scheduler: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Model: %s\n", cfg.Providers.Model)
	fmt.Printf("✓ History DB: %s\n", cfg.HistoryDBPath())
	fmt.Printf("✓ Channels enabled: %s\n", strings.Join(channelManager.GetEnabledChannels(), ", "))
	fmt.Println("Press Ctrl+C to stop")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go loop.Run(ctx)
	go scheduler.Run(ctx)

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
		cancel()
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	channelManager.StopAll(context.Background())
	msgBus.Close()
	fmt.Println("✓ Gateway stopped")
}

// simulateCmd drives the same evaluator the gateway uses from a local REPL,
// for tuning thresholds without a Discord connection.
func simulateCmd() {
	groupID := "sim:group"
	userID := "sim:user"

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--debug", "-d":
			logger.SetLevel(logger.DEBUG)
		case "-g", "--group":
			if i+1 < len(args) {
				groupID = args[i+1]
				i++
			}
		case "-u", "--user":
			if i+1 < len(args) {
				userID = args[i+1]
				i++
			}
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Provider is optional here: without one, wake decisions still print,
	// only the replies are skipped.
	var provider providers.LLMProvider
	if strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) != "" {
		provider, err = providers.CreateProvider(cfg)
		if err != nil {
			fmt.Printf("Error creating provider: %v\n", err)
			os.Exit(1)
		}
	}

	store, err := history.NewSQLiteStore(cfg.HistoryDBPath())
	if err != nil {
		fmt.Printf("Error opening history database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	evaluator, _ := buildEvaluator(cfg, provider, store)

	fmt.Printf("%s simulate — group=%s user=%s\n", appName, groupID, userID)
	fmt.Println("Type a message to evaluate it. Prefix with @ to simulate an at-mention.")
	fmt.Println("A lone @ simulates an empty mention. Ctrl+C or 'exit' to quit.")
	if provider == nil {
		fmt.Println("(no API key configured: decisions only, no replies)")
	}
	fmt.Println()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s> ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".wakegate_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		simulateOne(cfg, evaluator, provider, store, groupID, userID, input)
	}
}

func simulateOne(cfg *config.Config, evaluator *wake.Evaluator, provider providers.LLMProvider, store *history.SQLiteStore, groupID, userID, input string) {
	atMention := strings.HasPrefix(input, "@")
	text := strings.TrimSpace(strings.TrimPrefix(input, "@"))

	ev := wake.Event{
		ID:           uuid.NewString(),
		SenderID:     userID,
		GroupID:      groupID,
		BotID:        "sim:bot",
		SenderName:   userID,
		Text:         text,
		AtOrCommand:  atMention && text != "",
		EmptyMention: atMention && text == "",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if text != "" {
		_ = store.Append(ctx, groupID, "user", text)
	}

	decision := evaluator.Evaluate(ctx, ev)
	fmt.Printf("  outcome=%s suppress=%v", decision.Outcome, decision.Suppress)
	if decision.Reason != "" {
		fmt.Printf(" reason=%s", decision.Reason)
	}
	if decision.Text != text {
		fmt.Printf(" merged=%q", decision.Text)
	}
	fmt.Println()

	switch decision.Outcome {
	case wake.OutcomeCanned:
		fmt.Printf("  reply: %s\n", decision.Reply)
		_ = store.Append(ctx, groupID, "assistant", decision.Reply)
	case wake.OutcomeWake:
		if provider == nil {
			return
		}
		responder := agent.NewCannedResponder(cfg, provider, store)
		reply, err := responder.Complete(ctx, groupID, decision.Text)
		if err != nil {
			fmt.Printf("  provider error: %v\n", err)
			return
		}
		fmt.Printf("  reply: %s\n", reply)
		_ = store.Append(ctx, groupID, "assistant", reply)
		evaluator.Store().Group(groupID).Member(userID).ClearPending()
	}
}

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n", formatVersion())
	build, _ := formatBuildInfo()
	if build != "" {
		fmt.Printf("Build: %s\n", build)
	}
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	dbPath := cfg.HistoryDBPath()
	dbExists := false
	if _, err := os.Stat(dbPath); err == nil {
		dbExists = true
		fmt.Println("History DB:", dbPath, "✓")
	} else {
		fmt.Println("History DB:", dbPath, "not initialized")
	}

	fmt.Printf("Model: %s\n", cfg.Providers.Model)

	status := func(enabled bool) string {
		if enabled {
			return "✓"
		}
		return "not set"
	}
	apiReady := strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) != ""
	discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""

	fmt.Println("OpenRouter API:", status(apiReady))
	fmt.Println("Discord token:", status(discordReady))
	fmt.Println("Gateway ready:", status(apiReady && discordReady))
	if cfg.Maintenance.Enabled {
		fmt.Printf("Maintenance: enabled (%s)\n", cfg.Maintenance.CronExpr)
	} else {
		fmt.Println("Maintenance: disabled")
	}

	if !dbExists {
		return
	}
	store, err := history.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Printf("Error opening history database: %v\n", err)
		return
	}
	defer store.Close()

	recs, err := store.RecentDecisions(context.Background(), 10)
	if err != nil || len(recs) == 0 {
		return
	}
	fmt.Println("\nRecent decisions:")
	for _, rec := range recs {
		fmt.Printf("  %s  %-6s  %s/%s  %s\n",
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			rec.Outcome, rec.GroupID, rec.UserID, rec.Reason)
	}
}
