package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/zaprelay/zaprelay/internal/api"
	"github.com/zaprelay/zaprelay/internal/delivery"
	"github.com/zaprelay/zaprelay/internal/pipeline"
	"github.com/zaprelay/zaprelay/internal/relay"
	"github.com/zaprelay/zaprelay/internal/store"
	"github.com/zaprelay/zaprelay/internal/util"
)

// Delivery provider names accepted by -delivery-provider / $DELIVERY_PROVIDER.
const (
	ProviderGateway = "gateway"
	ProviderTwilio  = "twilio"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	slog.Info("Bootstrapping ZapRelay with configured modules")
	slog.Debug("Final configuration",
		"addr", *flags.addr,
		"delivery_provider", *flags.deliveryProvider,
		"simulation_mode", *flags.simulationMode,
		"backend_url_set", *flags.backendURL != "",
		"webhook_secret_set", *flags.webhookSecret != "")

	if err := run(flags); err != nil {
		slog.Error("ZapRelay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ZapRelay exited successfully")
}

// Config holds environment configuration
type Config struct {
	Addr             string
	WebhookSecret    string
	BackendURL       string
	BackendToken     string
	DeliveryProvider string
	GatewayURL       string
	GatewayKey       string
	SimulationMode   bool
}

// Flags holds command line flag values
type Flags struct {
	addr             *string
	webhookSecret    *string
	backendURL       *string
	backendToken     *string
	deliveryProvider *string
	gatewayURL       *string
	gatewayKey       *string
	simulationMode   *bool
}

// initializeLogger sets up structured logging with the level from $LOG_LEVEL.
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Addr:             os.Getenv("API_ADDR"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		BackendURL:       os.Getenv("AI_BACKEND_URL"),
		BackendToken:     os.Getenv("AI_BACKEND_TOKEN"),
		DeliveryProvider: os.Getenv("DELIVERY_PROVIDER"),
		GatewayURL:       os.Getenv("GATEWAY_API_URL"),
		GatewayKey:       os.Getenv("GATEWAY_API_KEY"),
		SimulationMode:   util.ParseBoolEnv("SIMULATION_MODE", false),
	}

	// Hosting platforms hand out the port separately.
	if config.Addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			config.Addr = ":" + port
		}
	}
	if config.DeliveryProvider == "" {
		config.DeliveryProvider = ProviderGateway
	}

	slog.Debug("environment variables loaded",
		"API_ADDR", config.Addr,
		"WEBHOOK_SECRET_SET", config.WebhookSecret != "",
		"AI_BACKEND_URL_SET", config.BackendURL != "",
		"AI_BACKEND_TOKEN_SET", config.BackendToken != "",
		"DELIVERY_PROVIDER", config.DeliveryProvider,
		"GATEWAY_API_URL", config.GatewayURL,
		"GATEWAY_API_KEY_SET", config.GatewayKey != "",
		"SIMULATION_MODE", config.SimulationMode)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		addr:             flag.String("addr", config.Addr, "HTTP listen address (overrides $API_ADDR / $PORT)"),
		webhookSecret:    flag.String("webhook-secret", config.WebhookSecret, "shared secret for webhook signature validation (overrides $WEBHOOK_SECRET)"),
		backendURL:       flag.String("backend-url", config.BackendURL, "AI backend endpoint (overrides $AI_BACKEND_URL)"),
		backendToken:     flag.String("backend-token", config.BackendToken, "AI backend bearer token (overrides $AI_BACKEND_TOKEN)"),
		deliveryProvider: flag.String("delivery-provider", config.DeliveryProvider, "outbound delivery provider: gateway or twilio (overrides $DELIVERY_PROVIDER)"),
		gatewayURL:       flag.String("gateway-url", config.GatewayURL, "WhatsApp gateway API root (overrides $GATEWAY_API_URL)"),
		gatewayKey:       flag.String("gateway-key", config.GatewayKey, "WhatsApp gateway API key (overrides $GATEWAY_API_KEY)"),
		simulationMode:   flag.Bool("simulate", config.SimulationMode, "suppress real outbound delivery (overrides $SIMULATION_MODE)"),
	}

	flag.Parse()
	return flags
}

// buildRelayClient selects the AI backend: the configured webhook backend
// when its URL is valid, otherwise a direct OpenAI completion backend when an
// API key is available. With neither, the webhook client stays in degraded
// mode and every sender receives the fallback reply.
func buildRelayClient(flags Flags) (relay.Client, bool) {
	webhookClient := relay.NewWebhookClient(
		relay.WithBackendURL(*flags.backendURL),
		relay.WithToken(*flags.backendToken),
	)
	if webhookClient.Configured() {
		return webhookClient, true
	}

	if os.Getenv("OPENAI_API_KEY") != "" {
		openaiClient, err := relay.NewOpenAIClient()
		if err == nil {
			slog.Info("No valid AI backend URL, using OpenAI relay")
			return openaiClient, true
		}
		slog.Warn("Failed to initialize OpenAI relay", "error", err)
	}

	slog.Warn("No AI backend configured, replies will degrade")
	return webhookClient, false
}

// buildDeliveryService selects the outbound provider.
func buildDeliveryService(flags Flags) (delivery.Service, error) {
	switch *flags.deliveryProvider {
	case ProviderTwilio:
		return delivery.NewTwilioService(delivery.WithTwilioDryRun(*flags.simulationMode))
	default:
		return delivery.NewGatewayService(
			delivery.WithBaseURL(*flags.gatewayURL),
			delivery.WithAPIKey(*flags.gatewayKey),
			delivery.WithDryRun(*flags.simulationMode),
		), nil
	}
}

func run(flags Flags) error {
	relayClient, backendConfigured := buildRelayClient(flags)

	deliveryService, err := buildDeliveryService(flags)
	if err != nil {
		return err
	}

	st := store.NewInMemoryStore()
	pipe := pipeline.New(st, relayClient, deliveryService)

	server := api.NewServer(st, pipe,
		api.WithAddr(*flags.addr),
		api.WithWebhookSecret(*flags.webhookSecret),
		api.WithSimulationMode(*flags.simulationMode),
		api.WithBackendConfigured(backendConfigured),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx)
}
