package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jvanveen/groendus-hass/internal/api"
	"github.com/jvanveen/groendus-hass/internal/app"
	"github.com/jvanveen/groendus-hass/internal/auth"
	"github.com/jvanveen/groendus-hass/internal/config"
	"github.com/jvanveen/groendus-hass/internal/mqtt"
	"github.com/jvanveen/groendus-hass/internal/store"
	"github.com/jvanveen/groendus-hass/internal/transmission"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	cfg, listMode := parseFlags()
	logger := setupLogger(cfg.Verbose)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	// Core clients ---------------------------------------------------------------
	authClient := auth.NewClient(auth.Credentials{Email: cfg.Email, Password: cfg.Password}, logger)
	apiClient := api.NewClient(logger)

	// Chargepoint listing path ----------------------------------------------------
	if listMode {
		runListChargepoints(ctx, cfg, authClient, apiClient, logger)
		return
	}

	if cfg.Email == "" || cfg.Password == "" {
		logger.Fatal("Email and password are required (-email/-password or GROENDUS_HASS_EMAIL/GROENDUS_HASS_PASSWORD)")
	}

	stateStore := store.New(cfg.StatePath, logger)
	state := stateStore.Load()

	// Validate credentials and resolve the chargepoint before anything
	// else; bad credentials must fail setup, not retry forever.
	tokens, err := authClient.EnsureValidToken(ctx, state.Tokens)
	if err != nil {
		logger.WithError(err).Fatal("Authentication failed")
	}
	state.Tokens = tokens

	driver, err := apiClient.Bootstrap(ctx, tokens.IDToken)
	if err != nil {
		logger.WithError(err).Fatal("Failed to fetch account chargepoints")
	}

	if cfg.ChargepointID == "" {
		cfg.ChargepointID = autoSelectChargepoint(driver, logger)
	}
	if !hasChargepoint(driver, cfg.ChargepointID) {
		logger.WithField("chargepoint_id", cfg.ChargepointID).
			Fatal("Chargepoint not found on this account (use -list-chargepoints)")
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = deviceIDFromChargepoint(cfg.ChargepointID)
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	if err := stateStore.Save(state); err != nil {
		logger.WithError(err).Warn("Failed to persist initial state")
	}

	logger.WithFields(logrus.Fields{
		"version":          version,
		"driver":           driver.Email,
		"chargepoint_id":   cfg.ChargepointID,
		"device_id":        cfg.DeviceID,
		"poll":             cfg.PollInterval,
		"mqtt_int":         cfg.MQTTInterval,
		"total_energy_kwh": state.Accumulator.TotalEnergyKWh,
	}).Info("Starting groendus-hass")

	// Transmitter ----------------------------------------------------------------
	var mqttTx app.Transmitter
	if cfg.HasMQTT() {
		mqttClient, err := mqtt.NewClient(cfg.MQTTUrl, cfg.DeviceID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create MQTT client")
		}
		defer mqttClient.Disconnect(250)
		mqttTx = transmission.NewMQTTTransmitter(mqttClient, cfg.DeviceID, cfg.ChargepointID, cfg.DiscoveryPrefix, version, logger)
		logger.Info("MQTT transmitter ready")
	} else {
		logger.Warn("No MQTT URL configured; data will only be logged")
	}

	// Run application ------------------------------------------------------------
	poller := app.NewPoller(authClient, apiClient, stateStore, state, cfg.ChargepointID, cfg.MaxPages, logger)
	if err := app.Run(ctx, cfg, poller, mqttTx, logger); err != nil {
		logger.WithError(err).Error("groendus-hass stopped with error")
		os.Exit(1)
	}
	logger.Info("groendus-hass stopped")
}

// -----------------------------------------------------------------------------
// Helpers & Flags
// -----------------------------------------------------------------------------

func parseFlags() (*config.Config, bool) {
	cfg := config.GetDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version and exit")
	listChargepoints := flag.Bool("list-chargepoints", false, "List the account's chargepoints and exit")

	flag.StringVar(&cfg.Email, "email", getEnv("GROENDUS_HASS_EMAIL", cfg.Email), "Groendus portal email")
	flag.StringVar(&cfg.Password, "password", getEnv("GROENDUS_HASS_PASSWORD", cfg.Password), "Groendus portal password")
	flag.StringVar(&cfg.ChargepointID, "chargepoint-id", getEnv("GROENDUS_HASS_CHARGEPOINT_ID", cfg.ChargepointID), "Chargepoint to track (auto-selected when the account has exactly one)")
	flag.StringVar(&cfg.MQTTUrl, "mqtt-url", getEnv("GROENDUS_HASS_MQTT_URL", cfg.MQTTUrl), "MQTT URL")
	flag.StringVar(&cfg.DiscoveryPrefix, "discovery-prefix", getEnv("GROENDUS_HASS_DISCOVERY_PREFIX", cfg.DiscoveryPrefix), "HA discovery prefix")
	flag.StringVar(&cfg.DeviceID, "device-id", getEnv("GROENDUS_HASS_DEVICE_ID", cfg.DeviceID), "Device identifier (derived from the chargepoint when empty)")
	flag.StringVar(&cfg.StatePath, "state-path", getEnv("GROENDUS_HASS_STATE_PATH", cfg.StatePath), "Path of the JSON state file")
	flag.BoolVar(&cfg.Verbose, "verbose", getEnv("GROENDUS_HASS_VERBOSE", "false") == "true", "Verbose logging")

	maxPagesStr := flag.String("max-pages", getEnv("GROENDUS_HASS_MAX_PAGES", ""), "Transaction pages fetched per poll at most")
	pollIntervalStr := flag.String("poll-interval", getEnv("GROENDUS_HASS_POLL_INTERVAL", ""), "Poll interval (e.g. 5m)")
	mqttIntervalStr := flag.String("mqtt-interval", getEnv("GROENDUS_HASS_MQTT_INTERVAL", ""), "MQTT interval (e.g. 60s)")
	forceUpdateIntervalStr := flag.String("force-update-interval", getEnv("GROENDUS_HASS_FORCE_UPDATE_INTERVAL", ""), "Force update all sensors at this interval even if unchanged (e.g. 10m, 0 = disabled)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("groendus-hass %s\n", version)
		os.Exit(0)
	}

	// Duration overrides
	if d, ok := parseIntervalFlag(*pollIntervalStr); ok && d > 0 {
		cfg.PollInterval = d
	}
	if d, ok := parseIntervalFlag(*mqttIntervalStr); ok && d > 0 {
		cfg.MQTTInterval = d
	}
	if d, ok := parseIntervalFlag(*forceUpdateIntervalStr); ok && d >= 0 {
		cfg.ForceUpdateInterval = d
	}
	if *maxPagesStr != "" {
		if v, err := strconv.Atoi(*maxPagesStr); err == nil && v > 0 {
			cfg.MaxPages = v
		}
	}

	return cfg, *listChargepoints
}

// parseIntervalFlag accepts Go durations ("90s", "5m") as well as plain
// second counts ("90").
func parseIntervalFlag(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, true
	}
	if v, err := strconv.Atoi(s); err == nil {
		return time.Duration(v) * time.Second, true
	}
	return 0, false
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

var deviceIDPattern = regexp.MustCompile(`[^a-z0-9_]+`)

// deviceIDFromChargepoint turns a vendor chargepoint id into an MQTT-safe
// device identifier.
func deviceIDFromChargepoint(chargepointID string) string {
	id := deviceIDPattern.ReplaceAllString(strings.ToLower(chargepointID), "_")
	id = strings.Trim(id, "_")
	if id == "" {
		return "groendus"
	}
	return id
}

// autoSelectChargepoint picks the only chargepoint when there is exactly one.
func autoSelectChargepoint(driver *api.Driver, logger *logrus.Logger) string {
	switch len(driver.Chargepoints) {
	case 0:
		logger.Fatal("Account has no chargepoints")
	case 1:
		id := driver.Chargepoints[0].ChargepointID
		logger.WithField("chargepoint_id", id).Info("Auto-selected the account's only chargepoint")
		return id
	default:
		logger.WithField("chargepoints", len(driver.Chargepoints)).
			Fatal("Account has multiple chargepoints; pass -chargepoint-id (use -list-chargepoints)")
	}
	return ""
}

func hasChargepoint(driver *api.Driver, chargepointID string) bool {
	for _, cp := range driver.Chargepoints {
		if cp.ChargepointID == chargepointID {
			return true
		}
	}
	return false
}

func runListChargepoints(ctx context.Context, cfg *config.Config, authClient *auth.Client, apiClient *api.Client, logger *logrus.Logger) {
	if cfg.Email == "" || cfg.Password == "" {
		logger.Fatal("Email and password are required to list chargepoints")
	}

	tokens, err := authClient.Login(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Authentication failed")
	}
	driver, err := apiClient.Bootstrap(ctx, tokens.IDToken)
	if err != nil {
		logger.WithError(err).Fatal("Failed to fetch chargepoints")
	}

	fmt.Printf("Driver: %s %s (%s)\n", driver.FirstName, driver.LastName, driver.Email)
	fmt.Printf("Chargepoints: %d\n", len(driver.Chargepoints))
	for _, cp := range driver.Chargepoints {
		fmt.Printf(" - %s (public=%t, evses=%d)\n", cp.ChargepointID, cp.IsPublic, len(cp.Evses))
	}
	os.Exit(0)
}
