// ABOUTME: Entry point for the voxhire interview orchestrator
// ABOUTME: Supervises the AI interviewer process and serves the admin API

package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/voxhire/orchestrator/internal/api"
	"github.com/voxhire/orchestrator/internal/auth"
	"github.com/voxhire/orchestrator/internal/channel"
	"github.com/voxhire/orchestrator/internal/config"
	"github.com/voxhire/orchestrator/internal/monitor"
	"github.com/voxhire/orchestrator/internal/orchestrator"
	"github.com/voxhire/orchestrator/internal/store"
	"github.com/voxhire/orchestrator/internal/supervisor"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                      _     _
 __   _____  __  ___ | |__ (_)_ __ ___
 \ \ / / _ \ \ \/ / || '_ \| | '__/ _ \
  \ V / (_) | >  <| || | | | | | |  __/
   \_/ \___/ /_/\_\_||_| |_|_|_|  \___|
`

// getConfigPath returns the path to the orchestrator config file.
// Priority: VOXHIRE_CONFIG env var > XDG_CONFIG_HOME/voxhire/orchestrator.yaml > ~/.config/voxhire/orchestrator.yaml
func getConfigPath() string {
	if envPath := os.Getenv("VOXHIRE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "orchestrator.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "voxhire", "orchestrator.yaml")
}

// getDataPath returns the path to the voxhire data directory.
// Priority: XDG_DATA_HOME/voxhire > ~/.local/share/voxhire
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "voxhire")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: voxhire-orchestrator <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                        Start the orchestrator")
		fmt.Println("  init                         Create a new config file interactively")
		fmt.Println("  bootstrap-token --subject S  Generate an admin API token")
		fmt.Println("  health                       Check orchestrator health")
		fmt.Println("  status                       Show agent and session slot status")
		fmt.Println("  sessions                     List interview sessions")
		fmt.Println("  assign --session ID          Assign a session to the agent")
		fmt.Println("  end --session ID             End a running session")
		fmt.Println("  agent start|stop|restart     Control the agent process")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap-token":
		err = runBootstrapToken()
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	case "sessions":
		err = runSessions(ctx)
	case "assign":
		err = runAssign(ctx)
	case "end":
		err = runEnd(ctx)
	case "agent":
		err = runAgent(ctx)
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

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Channel:  %s\n", cfg.Channel.Path)
	green.Print("    ▶ ")
	fmt.Printf("Agent:    %s\n", cfg.Agent.Command)
	fmt.Println()

	logger.Info("starting voxhire-orchestrator",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"agent_command", cfg.Agent.Command,
	)

	// Durable command channel shared with the agent process.
	ch, err := channel.Open(cfg.Channel.Path)
	if err != nil {
		return fmt.Errorf("opening command channel: %w", err)
	}
	defer ch.Close()

	sessions, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer sessions.Close()

	// The agent discovers the channel and media endpoint through its
	// environment; credentials from config ride along the same way.
	agentEnv := make(map[string]string, len(cfg.Agent.Env)+2)
	for k, v := range cfg.Agent.Env {
		agentEnv[k] = v
	}
	agentEnv["VOXHIRE_CHANNEL_PATH"] = cfg.Channel.Path
	if cfg.Agent.MediaURL != "" {
		agentEnv["VOXHIRE_MEDIA_URL"] = cfg.Agent.MediaURL
	}

	sup := supervisor.New(supervisor.Config{
		Command:     cfg.Agent.Command,
		Args:        cfg.Agent.Args,
		WorkDir:     cfg.Agent.WorkDir,
		Env:         agentEnv,
		LogPath:     cfg.Agent.LogPath,
		GracePeriod: cfg.Agent.GracePeriod,
	}, logger)

	mgr := orchestrator.NewManager(orchestrator.Params{
		Launcher: orchestrator.NewSupervisorLauncher(sup),
		Channel:  ch,
		Sessions: sessions,
		Config: orchestrator.Config{
			AckTimeout:        cfg.Agent.AckTimeout,
			GracePeriod:       cfg.Agent.GracePeriod,
			RestartBackoff:    cfg.Agent.RestartBackoff,
			RestartBackoffMax: cfg.Agent.RestartBackoffMax,
			MaxRestarts:       cfg.Agent.MaxRestarts,
			Retention:         cfg.Channel.Retention,
		},
		Logger: logger,
	})

	// Bring the agent up immediately; launch failures are retried by the
	// restart policy, so the orchestrator keeps serving either way.
	if err := mgr.StartAgent(ctx); err != nil {
		logger.Warn("initial agent start failed", "error", err)
	}

	mon := monitor.New(mgr, cfg.Monitor.TickInterval, logger)
	go mon.Run(ctx)

	var verifier auth.TokenVerifier
	if cfg.Auth.AdminSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.AdminSecret))
	} else {
		logger.Warn("admin API authentication disabled, no auth.admin_secret configured")
	}

	apiServer := api.NewServer(mgr, sessions, verifier, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: apiServer.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := mgr.ForceStop(shutdownCtx); err != nil {
		logger.Warn("stopping agent", "error", err)
	}

	return nil
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

// readToken reads the saved admin token next to the config file, if present.
func readToken() string {
	tokenPath := filepath.Join(filepath.Dir(getConfigPath()), "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// apiRequest performs an authenticated request against the running orchestrator.
func apiRequest(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, 0, fmt.Errorf("loading config: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := readToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response: %w", err)
	}
	return data, resp.StatusCode, nil
}

func runHealth(ctx context.Context) error {
	_, status, err := apiRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}
	fmt.Println("healthy")
	return nil
}

func runStatus(ctx context.Context) error {
	data, status, err := apiRequest(ctx, http.MethodGet, "/api/status", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("status request failed: %s", strings.TrimSpace(string(data)))
	}

	var st api.StatusResponse
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	cyan.Println("  Agent")
	cyan.Println("  -----")
	fmt.Print("  Lifecycle: ")
	switch st.Lifecycle {
	case "idle", "busy":
		green.Println(st.Lifecycle)
	case "fatal", "crashed":
		red.Println(st.Lifecycle)
	default:
		yellow.Println(st.Lifecycle)
	}
	if st.PID != 0 {
		fmt.Printf("  PID:       %d\n", st.PID)
		fmt.Printf("  Uptime:    %ds\n", st.UptimeSeconds)
	}
	fmt.Printf("  Restarts:  %d\n", st.Restarts)
	if st.LastHeartbeatAt != "" {
		fmt.Printf("  Heartbeat: %s\n", st.LastHeartbeatAt)
	}

	fmt.Println()
	cyan.Println("  Session slot")
	cyan.Println("  ------------")
	if st.Binding == nil {
		fmt.Println("  (unbound)")
	} else {
		fmt.Printf("  Session:  %s\n", st.Binding.SessionID)
		fmt.Printf("  State:    %s\n", st.Binding.State)
		fmt.Printf("  Deadline: %s\n", st.Binding.DeadlineAt)
	}
	return nil
}

func runSessions(ctx context.Context) error {
	data, status, err := apiRequest(ctx, http.MethodGet, "/api/sessions", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("listing sessions failed: %s", strings.TrimSpace(string(data)))
	}

	var sessions []api.SessionResponse
	if err := json.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("%-20s %-12s %-24s %s\n", s.ID, s.Status, s.CandidateName, s.RoomName)
	}
	return nil
}

func runAssign(ctx context.Context) error {
	sessionID, rest, err := parseSessionFlag(os.Args[2:])
	if err != nil {
		return err
	}

	req := api.AssignRequest{SessionID: sessionID}
	for i := 0; i < len(rest); i++ {
		arg := rest[i]
		switch {
		case arg == "--deadline":
			if i+1 >= len(rest) {
				return fmt.Errorf("--deadline requires a value in seconds")
			}
			secs, err := strconv.Atoi(rest[i+1])
			if err != nil || secs < 1 {
				return fmt.Errorf("--deadline must be a positive integer")
			}
			req.DeadlineSeconds = secs
			i++
		case strings.HasPrefix(arg, "--deadline="):
			secs, err := strconv.Atoi(strings.TrimPrefix(arg, "--deadline="))
			if err != nil || secs < 1 {
				return fmt.Errorf("--deadline must be a positive integer")
			}
			req.DeadlineSeconds = secs
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	data, status, err := apiRequest(ctx, http.MethodPost, "/api/assign", req)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("assignment rejected: %s", strings.TrimSpace(string(data)))
	}

	color.New(color.FgGreen).Printf("  ✓ Session %s assigned\n", sessionID)
	return nil
}

func runEnd(ctx context.Context) error {
	sessionID, rest, err := parseSessionFlag(os.Args[2:])
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("unknown flag: %s", rest[0])
	}

	data, status, err := apiRequest(ctx, http.MethodPost, "/api/end", api.EndRequest{SessionID: sessionID})
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return fmt.Errorf("end request rejected: %s", strings.TrimSpace(string(data)))
	}

	color.New(color.FgGreen).Printf("  ✓ End requested for session %s\n", sessionID)
	return nil
}

func runAgent(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: voxhire-orchestrator agent start|stop|restart")
	}

	action := os.Args[2]
	switch action {
	case "start", "stop", "restart":
	default:
		return fmt.Errorf("unknown agent action: %s", action)
	}

	data, status, err := apiRequest(ctx, http.MethodPost, "/api/agent/"+action, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("agent %s failed: %s", action, strings.TrimSpace(string(data)))
	}

	var resp map[string]string
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	fmt.Printf("agent %s: lifecycle is now %s\n", action, resp["lifecycle"])
	return nil
}

// parseSessionFlag extracts --session from args and returns the remaining args.
// Supports both "--session value" and "--session=value" formats.
func parseSessionFlag(args []string) (string, []string, error) {
	var sessionID string
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--session" || arg == "-s":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--session requires a value")
			}
			sessionID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--session="):
			sessionID = strings.TrimPrefix(arg, "--session=")
		case strings.HasPrefix(arg, "-s="):
			sessionID = strings.TrimPrefix(arg, "-s=")
		default:
			rest = append(rest, arg)
		}
	}
	if sessionID == "" {
		return "", nil, fmt.Errorf("--session flag is required")
	}
	return sessionID, rest, nil
}

// runBootstrapToken generates an admin API token from the configured secret
// and saves it next to the config file for the CLI commands to use.
func runBootstrapToken() error {
	var subject string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject":
			if i+1 >= len(args) {
				return fmt.Errorf("--subject requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="):
			subject = strings.TrimPrefix(arg, "--subject=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("--subject flag is required")
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.AdminSecret == "" {
		return fmt.Errorf("auth.admin_secret not configured in %s", configPath)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.AdminSecret))

	// Default TTL: 30 days
	tokenTTL := 30 * 24 * time.Hour
	expiresAt := time.Now().Add(tokenTTL).UTC()

	token, err := verifier.Generate(subject, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Saved token: %s\n", tokenPath)
	fmt.Printf("  Subject: %s\n", subject)
	fmt.Printf("  Expires: %s\n", expiresAt.Format("Jan 02, 2006"))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("voxhire-orchestrator configuration setup")
	fmt.Println("========================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "sessions.db")
	defaultChannelPath := filepath.Join(defaultDataPath, "channel.db")

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
	httpAddr := prompt(reader, "Admin HTTP address", config.DefaultHTTPAddr)

	// Storage
	fmt.Println("\n--- Storage Configuration ---")
	dbPath := prompt(reader, "Session database path", defaultDbPath)
	channelPath := prompt(reader, "Command channel path", defaultChannelPath)

	// Agent
	fmt.Println("\n--- Agent Configuration ---")
	agentCommand := prompt(reader, "Agent command", "interviewer-agent")
	mediaURL := prompt(reader, "Media server URL (blank to skip)", "")
	agentLog := prompt(reader, "Agent log file", filepath.Join(defaultDataPath, "agent.log"))

	// Auth
	fmt.Println("\n--- Auth Configuration ---")
	genSecret := prompt(reader, "Generate admin API secret?", "yes")
	var adminSecret string
	if strings.ToLower(genSecret) == "yes" || strings.ToLower(genSecret) == "y" {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating admin secret: %w", err)
		}
		adminSecret = base64.StdEncoding.EncodeToString(secretBytes)
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# voxhire-orchestrator configuration\n")
	cfg.WriteString("# Generated by voxhire-orchestrator init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("channel:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", channelPath))
	cfg.WriteString("  retention: \"24h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("agent:\n")
	cfg.WriteString(fmt.Sprintf("  command: \"%s\"\n", agentCommand))
	if mediaURL != "" {
		cfg.WriteString(fmt.Sprintf("  media_url: \"%s\"\n", mediaURL))
	}
	cfg.WriteString(fmt.Sprintf("  log_path: \"%s\"\n", agentLog))
	cfg.WriteString("  ack_timeout: \"30s\"\n")
	cfg.WriteString("  grace_period: \"10s\"\n")
	cfg.WriteString("  restart_backoff: \"1s\"\n")
	cfg.WriteString("  restart_backoff_max: \"1m\"\n")
	cfg.WriteString("  max_restarts: 3\n")
	cfg.WriteString("\n")

	cfg.WriteString("monitor:\n")
	cfg.WriteString("  tick_interval: \"3s\"\n")
	cfg.WriteString("\n")

	if adminSecret != "" {
		cfg.WriteString("auth:\n")
		cfg.WriteString(fmt.Sprintf("  admin_secret: \"%s\"\n", adminSecret))
		cfg.WriteString("\n")
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the orchestrator:")
	fmt.Printf("  voxhire-orchestrator serve\n")
	if adminSecret != "" {
		fmt.Println("\nTo generate an admin token:")
		fmt.Printf("  voxhire-orchestrator bootstrap-token --subject \"Your Name\"\n")
	}

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
