package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/calumw/pilltick/internal/alarm"
	"github.com/calumw/pilltick/internal/alert"
	"github.com/calumw/pilltick/internal/api"
	"github.com/calumw/pilltick/internal/assistant"
	"github.com/calumw/pilltick/internal/auth"
	"github.com/calumw/pilltick/internal/config"
	"github.com/calumw/pilltick/internal/cron"
	"github.com/calumw/pilltick/internal/device"
	"github.com/calumw/pilltick/internal/medication"
	"github.com/calumw/pilltick/internal/store"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	version    = "dev"
)

// App holds the daemon's wired components
type App struct {
	config    *config.Config
	store     *store.Store
	meds      *medication.Store
	engine    *alarm.Engine
	events    *alert.Hub
	deviceHub *device.Hub
	jobs      *cron.Runner
	server    *api.Server
	botWatch  *alert.TelegramListener
	logger    *zap.Logger
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "user":
			handleUserCommand(os.Args[2:])
			return
		case "init":
			flag.CommandLine.Parse(os.Args[2:])
			handleInitCommand()
			return
		case "status":
			flag.CommandLine.Parse(os.Args[2:])
			handleStatusCommand()
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "version", "--version", "-v":
			fmt.Printf("Pilltick version %s\n", version)
			return
		}
	}

	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to start", zap.Error(err))
	}
	app.run()
}

func buildApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	st, err := store.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	meds, err := medication.NewStore(st.DB())
	if err != nil {
		return nil, fmt.Errorf("failed to open medication store: %w", err)
	}

	events := alert.NewHub()
	deviceHub := device.NewHub(st, logger)
	deviceMgr := device.NewManager(st, logger)

	channels, bot := buildChannels(cfg, deviceHub, logger)
	mux := alert.NewMultiplexer(logger, channels...)

	engine := alarm.NewEngine(meds, meds, alarm.NewBadgerJournal(st.Badger()), logger).
		WithConfig(alarm.Config{
			PollInterval:   time.Duration(cfg.Alarm.PollIntervalSeconds) * time.Second,
			RepeatInterval: time.Duration(cfg.Alarm.RepeatIntervalSeconds) * time.Second,
			DefaultSnooze:  time.Duration(cfg.Alarm.DefaultSnoozeMinutes) * time.Minute,
		}).
		WithRinger(mux).
		WithEvents(events)

	var botWatch *alert.TelegramListener
	if bot != nil {
		botWatch = alert.NewTelegramListener(bot, cfg.Channels.Telegram.ChatID, engine, logger)
	}

	assist := assistant.New(cfg.Assistant, meds, st, logger)

	jobs := cron.NewRunner(cfg.Jobs, meds, logger).
		WithNotifier(summaryNotifier{channels: channels})

	server := api.New(cfg, api.Deps{
		Store:     st,
		Meds:      meds,
		Engine:    engine,
		Events:    events,
		Devices:   deviceMgr,
		DeviceHub: deviceHub,
		Assistant: assist,
	}, logger)

	return &App{
		config:    cfg,
		store:     st,
		meds:      meds,
		engine:    engine,
		events:    events,
		deviceHub: deviceHub,
		jobs:      jobs,
		server:    server,
		botWatch:  botWatch,
		logger:    logger,
	}, nil
}

// buildChannels assembles the enabled alert channels. The Telegram bot is
// returned separately so the callback listener can be attached to the engine.
func buildChannels(cfg *config.Config, deviceHub *device.Hub, logger *zap.Logger) ([]alert.Channel, *tgbotapi.BotAPI) {
	var channels []alert.Channel
	var bot *tgbotapi.BotAPI

	if cfg.Channels.Audio.Enabled {
		cacheDir := cfg.Storage.DataDir + "/tones"
		channels = append(channels, alert.NewAudioChannel(cacheDir, cfg.Channels.Audio.Player, logger))
	}

	channels = append(channels, alert.NewHapticChannel(deviceHub))

	if cfg.Channels.Pushover.Enabled {
		channels = append(channels,
			alert.NewPushoverChannel(cfg.Channels.Pushover.AppToken, cfg.Channels.Pushover.UserKey))
	}

	if cfg.Channels.Telegram.Enabled {
		b, err := tgbotapi.NewBotAPI(cfg.Channels.Telegram.BotToken)
		if err != nil {
			logger.Warn("Telegram channel disabled, bot auth failed", zap.Error(err))
		} else {
			bot = b
			channels = append(channels, alert.NewTelegramChannel(bot, cfg.Channels.Telegram.ChatID))
		}
	}
	return channels, bot
}

func (app *App) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.engine.Start(ctx); err != nil {
		app.logger.Fatal("Failed to start alarm engine", zap.Error(err))
	}
	if err := app.jobs.Start(); err != nil {
		app.logger.Fatal("Failed to start background jobs", zap.Error(err))
	}
	if app.botWatch != nil {
		app.botWatch.Start()
	}

	// Watching the config file only logs; a restart applies changes
	if _, err := config.Watch(*configPath, *dataDir, func(_ *config.Config) {
		app.logger.Info("Config file changed, restart to apply")
	}); err != nil {
		app.logger.Debug("Config watch unavailable", zap.Error(err))
	}

	go func() {
		if err := app.server.Start(); err != nil {
			app.logger.Error("Server stopped", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		app.logger.Info("Shutting down", zap.String("signal", s.String()))
	case <-ctx.Done():
	}

	app.shutdown()
}

func (app *App) shutdown() {
	if err := app.server.Shutdown(); err != nil {
		app.logger.Warn("Server shutdown error", zap.Error(err))
	}
	if app.botWatch != nil {
		app.botWatch.Stop()
	}
	app.jobs.Stop()
	app.engine.Stop()
	if err := app.store.Close(); err != nil {
		app.logger.Warn("Storage close error", zap.Error(err))
	}
	app.logger.Info("Goodbye")
}

// summaryNotifier pushes the morning summary through the notification
// channels, reusing the alert layer's delivery paths.
type summaryNotifier struct {
	channels []alert.Channel
}

func (n summaryNotifier) Notify(userID, title, body string) error {
	v := alarm.View{UserID: userID, Name: title, Instructions: body}
	var lastErr error
	sent := false
	for _, ch := range n.channels {
		switch ch.Name() {
		case "pushover", "telegram":
			if err := ch.Deliver(v); err != nil {
				lastErr = err
			} else {
				sent = true
			}
		}
	}
	if !sent && lastErr != nil {
		return lastErr
	}
	return nil
}

// ==================== Subcommands ====================

func handleUserCommand(args []string) {
	if len(args) == 0 || args[0] != "add" {
		fmt.Println("Usage: pilltick user add <username>")
		os.Exit(1)
	}
	if len(args) < 2 {
		fmt.Println("Usage: pilltick user add <username>")
		os.Exit(1)
	}
	username := args[1]
	flag.CommandLine.Parse(args[2:])

	password, err := promptPassword()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	st, err := store.New(cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	existing, err := st.GetUserByUsername(username)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if existing != nil {
		fmt.Printf("User %q already exists\n", username)
		os.Exit(1)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	user := &store.User{ID: store.NewID("usr"), Username: username, PasswordHash: hash}
	if err := st.CreateUser(user); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created user %s (%s)\n", username, user.ID)
}

func promptPassword() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", err
		}
		if len(raw) < 8 {
			return "", fmt.Errorf("password must be at least 8 characters")
		}
		return string(raw), nil
	}

	// Piped input
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", fmt.Errorf("no password on stdin")
	}
	password := strings.TrimSpace(scanner.Text())
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	return password, nil
}

func handleInitCommand() {
	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	path := *configPath
	if path == "" {
		path = cfg.Storage.DataDir + "/config.yaml"
	}
	if err := config.WriteDefault(path, cfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote config to %s\n", path)
}

func handleStatusCommand() {
	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Pilltick Status:")
	fmt.Println("================")
	fmt.Printf("Address: %s:%d\n", cfg.Server.Address, cfg.Server.Port)
	fmt.Printf("Data Directory: %s\n", cfg.Storage.DataDir)
	fmt.Printf("Poll Interval: %ds\n", cfg.Alarm.PollIntervalSeconds)
	fmt.Printf("Audio: %v, Pushover: %v, Telegram: %v\n",
		cfg.Channels.Audio.Enabled, cfg.Channels.Pushover.Enabled, cfg.Channels.Telegram.Enabled)
	fmt.Printf("Assistant: %v\n", cfg.Assistant.Enabled)
}

func printHelp() {
	fmt.Println("Pilltick, a self-hosted medicine alarm daemon")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pilltick                      Run the daemon")
	fmt.Println("  pilltick init                 Write a default config file")
	fmt.Println("  pilltick user add <username>  Create an account")
	fmt.Println("  pilltick status               Show configuration")
	fmt.Println("  pilltick version              Show version")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config <path>   Path to config file")
	fmt.Println("  -data <path>     Path to data directory")
}
