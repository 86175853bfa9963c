// ABOUTME: Entry point for the omni-gateway server
// ABOUTME: Ingests provider webhooks and serves the conversation API

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/omni-gateway/internal/config"
	"github.com/2389/omni-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                          _                  _
  ___  _ __ ___  _ __  (_)       __ _  __ _| |_ _____      ____ _ _   _
 / _ \| '_ ' _ \| '_ \ | |_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_) | | | | | | | | || |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \___/|_| |_| |_|_| |_||_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: OMNI_CONFIG env var > XDG_CONFIG_HOME/omni/gateway.yaml > ~/.config/omni/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("OMNI_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "omni", "gateway.yaml")
}

// getDataPath returns the path to the omni data directory.
// Priority: XDG_DATA_HOME/omni > ~/.local/share/omni
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "omni")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: omni-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check gateway health")
		fmt.Println("  metrics  Print the conversation metrics report")
		os.Exit(1)
	}

	// Provider tokens usually live in a .env file during development.
	// Config expansion reads them from the environment.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "metrics":
		err = runMetrics(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)

	if cfg.Providers.Active != "" {
		green.Print("    ▶ ")
		fmt.Printf("Provider:  ")
		cyan.Print(cfg.Providers.Active)
		fmt.Println()
	}
	if cfg.Chatbot.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Chatbot:   ")
		cyan.Printf("%s (%s)", cfg.Chatbot.BotName, cfg.Chatbot.Generator)
		fmt.Println()
	}
	if cfg.Events.AMQP.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("AMQP:      ")
		yellow.Print(cfg.Events.AMQP.Exchange)
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting omni-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Driver,
	)

	// Create and run gateway
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runMetrics(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/conversations/metrics", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("metrics request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics request returned status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("omni-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "0.0.0.0:8000")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Providers
	fmt.Println("\n--- Provider Configuration ---")
	active := prompt(reader, "Active provider (zapi/evolution/none)", "zapi")

	var zapiInstance, zapiToken, zapiClientToken string
	var evoBaseURL, evoInstance, evoAPIKey string
	switch strings.ToLower(active) {
	case "zapi":
		zapiInstance = prompt(reader, "Z-API instance id", "${ZAPI_INSTANCE_ID}")
		zapiToken = prompt(reader, "Z-API token", "${ZAPI_TOKEN}")
		zapiClientToken = prompt(reader, "Z-API client token", "${ZAPI_CLIENT_TOKEN}")
	case "evolution":
		evoBaseURL = prompt(reader, "Evolution base URL", "http://localhost:8080")
		evoInstance = prompt(reader, "Evolution instance", "main")
		evoAPIKey = prompt(reader, "Evolution API key", "${EVOLUTION_API_KEY}")
	default:
		active = ""
	}

	// Chatbot
	fmt.Println("\n--- Chatbot Configuration ---")
	chatbotStr := prompt(reader, "Enable auto-reply greeting?", "yes")
	chatbotEnabled := strings.ToLower(chatbotStr) == "yes" || strings.ToLower(chatbotStr) == "y"

	var botName, businessName string
	if chatbotEnabled {
		botName = prompt(reader, "Bot name", "Sofia")
		businessName = prompt(reader, "Business name", "3A Frios")
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# omni-gateway configuration\n")
	cfg.WriteString("# Generated by omni-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString("  driver: \"sqlite\"\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("providers:\n")
	if active != "" {
		cfg.WriteString(fmt.Sprintf("  active: \"%s\"\n", active))
	}
	cfg.WriteString("  zapi:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", active == "zapi"))
	if active == "zapi" {
		cfg.WriteString(fmt.Sprintf("    instance_id: \"%s\"\n", zapiInstance))
		cfg.WriteString(fmt.Sprintf("    token: \"%s\"\n", zapiToken))
		cfg.WriteString(fmt.Sprintf("    client_token: \"%s\"\n", zapiClientToken))
	}
	cfg.WriteString("  evolution:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", active == "evolution"))
	if active == "evolution" {
		cfg.WriteString(fmt.Sprintf("    base_url: \"%s\"\n", evoBaseURL))
		cfg.WriteString(fmt.Sprintf("    instance: \"%s\"\n", evoInstance))
		cfg.WriteString(fmt.Sprintf("    api_key: \"%s\"\n", evoAPIKey))
	}
	cfg.WriteString("\n")

	cfg.WriteString("chatbot:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", chatbotEnabled))
	if chatbotEnabled {
		cfg.WriteString(fmt.Sprintf("  bot_name: \"%s\"\n", botName))
		cfg.WriteString(fmt.Sprintf("  business_name: \"%s\"\n", businessName))
		cfg.WriteString("  generator: \"static\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("dedupe:\n")
	cfg.WriteString("  ttl: \"5m\"\n")
	cfg.WriteString("  max_entries: 100000\n")
	cfg.WriteString("\n")

	cfg.WriteString("events:\n")
	cfg.WriteString("  amqp:\n")
	cfg.WriteString("    enabled: false\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  omni-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
