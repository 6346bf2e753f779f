package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

var foreground bool

var rootCmd = &cobra.Command{
	Use:   "kbd-backlightd",
	Short: "Keyboard backlight activity daemon",
	Long: `kbd-backlightd keeps the keyboard backlight on while you type or point and
fades it out after a period of inactivity. Brightness changes made with the
hardware hotkey are respected: turning the backlight off keeps it off until
the hotkey turns it on again, and the level picked there becomes the new
target.

Configuration is read from ` + defaultConfigPath + ` (override with
$` + configPathEnv + `).`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the root command and maps the outcome to an exit status: 0
// for help or a clean stop, 1 for anything fatal.
func run(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func runRoot(cmd *cobra.Command, args []string) error {
	detached := isDetached()

	console := cmd.ErrOrStderr()

	path := configPath()
	cfg, err := LoadConfig(path, setupLogger(console, LogLevelInfo))
	if err != nil {
		return err
	}

	// Validate guarantees the level parses.
	level, _ := parseLogLevel(cfg.LogLevel)
	out, closeLog, err := openLogOutput(detached, cfg.LogFile, console)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := setupLogger(out, level)

	logger.Debug("configuration",
		"path", path,
		"brightness_path", cfg.BrightnessPath,
		"max_brightness_path", cfg.MaxBrightnessPath,
		"timeout", cfg.Timeout(),
		"fade_steps", cfg.FadeSteps,
		"fade_interval", cfg.FadeInterval(),
		"target_brightness", cfg.TargetBrightness,
		"dim_brightness", cfg.DimBrightness,
		"input_dir", cfg.InputDir,
		"hotplug", cfg.Hotplug,
		"write_method", cfg.WriteMethod,
		"status_listen", cfg.StatusListen,
	)

	if !foreground && !detached {
		// Fatal startup problems are reported here, on the terminal, before
		// the detached child takes over.
		port, monitor, closeWriter, err := openHardware(cfg, nil, logger)
		if err != nil {
			return err
		}
		_ = monitor.Close()
		closeWriter()
		logger.Debug("preflight ok", "max", port.Max(), "current", port.Current())

		pid, err := detach(os.Args[1:])
		if err != nil {
			return err
		}
		logger.Info("kbd-backlightd detached", "pid", pid)
		return nil
	}

	return runDaemon(context.Background(), cfg, logger)
}

// openHardware opens the backlight surface and the initial input device set.
// Every error it returns is fatal to startup.
func openHardware(cfg Config, metrics *Metrics, logger *slog.Logger) (*BrightnessPort, *ActivityMonitor, func(), error) {
	writer, closeWriter, err := newBrightnessWriter(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	port := NewBrightnessPort(cfg.BrightnessPath, cfg.MaxBrightnessPath, writer, metrics, logger)
	if err := port.Open(); err != nil {
		closeWriter()
		return nil, nil, nil, err
	}

	classifier := NewClassifier(logger)
	devices, err := classifier.Enumerate(cfg.InputDir)
	if err != nil {
		closeWriter()
		return nil, nil, nil, err
	}
	if len(devices) == 0 {
		closeWriter()
		return nil, nil, nil, errNoDevices
	}

	monitor, err := NewActivityMonitor(logger)
	if err != nil {
		closeDevices(devices)
		closeWriter()
		return nil, nil, nil, err
	}
	for i, dev := range devices {
		if err := monitor.Add(dev); err != nil {
			closeDevices(devices[i:])
			_ = monitor.Close()
			closeWriter()
			return nil, nil, nil, err
		}
	}
	return port, monitor, closeWriter, nil
}

func closeDevices(devices []*InputDevice) {
	for _, d := range devices {
		_ = d.Close()
	}
}

func newBrightnessWriter(cfg Config) (brightnessWriter, func(), error) {
	switch cfg.WriteMethod {
	case writeMethodLogind:
		w, err := newLogindWriter(cfg.BrightnessPath, cfg.LogindSession)
		if err != nil {
			return nil, nil, fmt.Errorf("logind brightness writer: %w", err)
		}
		return w, func() { _ = w.Close() }, nil
	default:
		return sysfsWriter{path: cfg.BrightnessPath}, func() {}, nil
	}
}

// runDaemon runs the control loop, plus the status server when configured,
// until SIGINT/SIGTERM.
func runDaemon(ctx context.Context, cfg Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(reg)

	port, monitor, closeWriter, err := openHardware(cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer closeWriter()

	classifier := NewClassifier(logger)

	// A nil *HotplugWatcher must not end up in the interface.
	var hotplug hotplugSource
	if cfg.Hotplug {
		w, err := NewHotplugWatcher(cfg.InputDir, logger)
		if err != nil {
			logger.Warn("input hotplug disabled", "error", err)
		} else {
			defer w.Close()
			hotplug = w
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := &stateStore{}
	g, gctx := errgroup.WithContext(ctx)

	var broadcasts chan StateBroadcast
	if cfg.StatusListen != "" {
		broadcasts = make(chan StateBroadcast, 256)
		hub := NewHub(logger, 0)
		srv := NewStatusServer(store, hub, reg, logger)

		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, hub, broadcasts, logger)
			return nil
		})
		g.Go(func() error {
			// The status surface is optional; losing it must not stop the loop.
			if err := srv.Run(gctx, cfg.StatusListen); err != nil {
				logger.Error("status server stopped", "error", err)
			}
			return nil
		})
	}

	logger.Info("kbd-backlightd starting", "version", version, "pid", os.Getpid())

	d := NewDaemon(cfg, port, monitor, hotplug, classifier, broadcasts, store, metrics, logger)
	g.Go(func() error {
		err := d.Run(gctx)
		// The loop is done; let the status goroutines go too.
		stop()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("kbd-backlightd stopped")
	return nil
}
