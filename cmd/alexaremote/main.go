package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/echobridge/alexaremote/internal/apiserver"
	"github.com/echobridge/alexaremote/internal/common/config"
	"github.com/echobridge/alexaremote/internal/connection"
	"github.com/echobridge/alexaremote/internal/connection/jsons"
	"github.com/echobridge/alexaremote/internal/loginserver"
	"github.com/echobridge/alexaremote/pkg/logger"
	"github.com/echobridge/alexaremote/pkg/metrics"
	"github.com/echobridge/alexaremote/pkg/version"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath     string
	ttsVolume      int
	standardVolume int
	announceTitle  string
	announceBody   string
	devicesJSON    bool

	rootCmd = &cobra.Command{
		Use:   "alexaremote",
		Short: "Alexa remote control",
		Long:  `alexaremote drives echo devices through the unofficial Alexa web API`,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of alexaremote",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("alexaremote version %s\n", version.Get())
		},
	}

	loginCmd = &cobra.Command{
		Use:   "login",
		Short: "Run the interactive login flow in a local browser",
		RunE:  runLogin,
	}

	devicesCmd = &cobra.Command{
		Use:   "devices",
		Short: "List the account's echo devices",
		RunE:  runDevices,
	}

	speakCmd = &cobra.Command{
		Use:   "speak <device> <text>",
		Short: "Speak a text on one device",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runSpeak,
	}

	announceCmd = &cobra.Command{
		Use:   "announce <device> <text>",
		Short: "Send an announcement to one device",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runAnnounce,
	}

	routineCmd = &cobra.Command{
		Use:   "routine <device> <utterance>",
		Short: "Start the routine triggered by an utterance",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runRoutine,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control API with prometheus metrics",
		RunE:  runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", "", "path to configuration file")
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "print the raw device list JSON")
	speakCmd.Flags().IntVar(&ttsVolume, "volume", -1, "volume during speech, -1 leaves it unchanged")
	speakCmd.Flags().IntVar(&standardVolume, "restore-volume", -1, "volume to restore afterwards")
	announceCmd.Flags().IntVar(&ttsVolume, "volume", -1, "volume during the announcement, -1 leaves it unchanged")
	announceCmd.Flags().IntVar(&standardVolume, "restore-volume", -1, "volume to restore afterwards")
	announceCmd.Flags().StringVar(&announceTitle, "title", "", "announcement title")
	announceCmd.Flags().StringVar(&announceBody, "body", "", "announcement display body")
	rootCmd.AddCommand(versionCmd, loginCmd, devicesCmd, speakCmd, announceCmd, routineCmd, serveCmd)
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("CONFIG_DIR"); envPath != "" {
		return filepath.Join(envPath, "alexaremote.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "alexaremote.yaml"
	}
	return filepath.Join(home, ".alexaremote", "alexaremote.yaml")
}

// setup loads the configuration and builds the logger, the metrics registry
// and a fresh connection. A missing config file falls back to defaults.
func setup() (*config.AppConfig, *zap.Logger, *connection.Connection, *metrics.Metrics, error) {
	cfgPath := getConfigPath()
	cfg, resolved, err := config.LoadConfig(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, nil, nil, fmt.Errorf("loading configuration from %q: %w", resolved, err)
		}
		cfg = config.Default()
	}

	zapLogger, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("initializing logger: %w", err)
	}
	zapLogger = zapLogger.With(zap.String("run_id", uuid.NewString()))

	m := metrics.New(cfg.Metrics)
	conn := connection.New(nil, &cfg.Client, zapLogger, m)
	return cfg, zapLogger, conn, m, nil
}

// restoreSession loads the persisted session blob into the connection and
// renews the access token when due.
func restoreSession(ctx context.Context, cfg *config.AppConfig, conn *connection.Connection) error {
	blob, err := os.ReadFile(cfg.SessionFile)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New("no session found, run \"alexaremote login\" first")
		}
		return fmt.Errorf("reading session file %q: %w", cfg.SessionFile, err)
	}
	if err := conn.Restore(ctx, string(blob), ""); err != nil {
		return fmt.Errorf("restoring session: %w", err)
	}
	renewed, err := conn.CheckRenewSession(ctx)
	if err != nil {
		return fmt.Errorf("renewing session: %w", err)
	}
	if renewed {
		return saveSession(cfg, conn)
	}
	return nil
}

func saveSession(cfg *config.AppConfig, conn *connection.Connection) error {
	blob := conn.Serialize()
	if blob == "" {
		return errors.New("connection holds no serializable session")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SessionFile), 0o700); err != nil {
		return err
	}
	return os.WriteFile(cfg.SessionFile, []byte(blob), 0o600)
}

// waitIdle blocks until all queues drained so fire-and-forget commands are
// actually on the wire before the process exits.
func waitIdle(conn *connection.Connection, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	// the batching queues only start draining after the debounce window
	time.Sleep(time.Second)
	for time.Now().Before(deadline) {
		if conn.Idle() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func findDevice(ctx context.Context, conn *connection.Connection, nameOrSerial string) (*jsons.Device, error) {
	devices, err := conn.GetDevices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].SerialNumber == nameOrSerial || strings.EqualFold(devices[i].AccountName, nameOrSerial) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("no such device: %q", nameOrSerial)
}

func volumeFlags() (tts, standard *int) {
	if ttsVolume >= 0 {
		tts = &ttsVolume
	}
	if standardVolume >= 0 {
		standard = &standardVolume
	}
	return tts, standard
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, zapLogger, conn, _, err := setup()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	srv := loginserver.New(zapLogger, conn, cfg.Login, func(conn *connection.Connection) {
		if err := saveSession(cfg, conn); err != nil {
			zapLogger.Error("persisting session failed", zap.Error(err))
			return
		}
		fmt.Printf("Logged in as %s on %s, session saved to %s\n",
			conn.CustomerName(), conn.AmazonSite(), cfg.SessionFile)
		cancel()
	})
	fmt.Printf("Open http://%s/ in your browser to sign in\n", cfg.Login.Addr)
	return srv.Start(ctx)
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, zapLogger, conn, _, err := setup()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	ctx, cancel := signalContext()
	defer cancel()
	if err := restoreSession(ctx, cfg, conn); err != nil {
		return err
	}

	if devicesJSON {
		raw, err := conn.GetDevicesJSON(ctx)
		if err != nil {
			return err
		}
		fmt.Println(raw)
		return nil
	}
	devices, err := conn.GetDevices(ctx)
	if err != nil {
		return err
	}
	for _, device := range devices {
		state := "offline"
		if device.Online {
			state = "online"
		}
		fmt.Printf("%-30s %-20s %-12s %s\n", device.AccountName, device.SerialNumber, device.DeviceFamily, state)
	}
	return nil
}

func runSpeak(cmd *cobra.Command, args []string) error {
	cfg, zapLogger, conn, _, err := setup()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	ctx, cancel := signalContext()
	defer cancel()
	if err := restoreSession(ctx, cfg, conn); err != nil {
		return err
	}

	device, err := findDevice(ctx, conn, args[0])
	if err != nil {
		return err
	}
	tts, standard := volumeFlags()
	conn.Speak(*device, strings.Join(args[1:], " "), tts, standard)
	waitIdle(conn, 30*time.Second)
	return nil
}

func runAnnounce(cmd *cobra.Command, args []string) error {
	cfg, zapLogger, conn, _, err := setup()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	ctx, cancel := signalContext()
	defer cancel()
	if err := restoreSession(ctx, cfg, conn); err != nil {
		return err
	}

	device, err := findDevice(ctx, conn, args[0])
	if err != nil {
		return err
	}
	tts, standard := volumeFlags()
	conn.Announce(*device, strings.Join(args[1:], " "), announceBody, announceTitle, tts, standard)
	waitIdle(conn, 30*time.Second)
	return nil
}

func runRoutine(cmd *cobra.Command, args []string) error {
	cfg, zapLogger, conn, _, err := setup()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	ctx, cancel := signalContext()
	defer cancel()
	if err := restoreSession(ctx, cfg, conn); err != nil {
		return err
	}

	device, err := findDevice(ctx, conn, args[0])
	if err != nil {
		return err
	}
	if err := conn.StartRoutine(ctx, *device, strings.Join(args[1:], " ")); err != nil {
		return err
	}
	waitIdle(conn, 30*time.Second)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, zapLogger, conn, m, err := setup()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	ctx, cancel := signalContext()
	defer cancel()
	if err := restoreSession(ctx, cfg, conn); err != nil {
		return err
	}
	zapLogger.Info("starting alexaremote",
		zap.String("version", version.Get()),
		zap.String("site", conn.AmazonSite()))

	// keep the access token fresh while serving
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				renewed, err := conn.CheckRenewSession(ctx)
				if err != nil {
					zapLogger.Warn("session renewal failed", zap.Error(err))
					continue
				}
				if renewed {
					if err := saveSession(cfg, conn); err != nil {
						zapLogger.Warn("persisting renewed session failed", zap.Error(err))
					}
				}
			}
		}
	}()

	return apiserver.New(zapLogger, conn, m, cfg.Metrics.Addr).Start(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
