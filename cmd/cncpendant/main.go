package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

const description = `Drives a CNC machine from a USB gamepad.

Reads a Linux joystick device, translates button presses and stick
deflection into G-code on a fixed tick, and sends it to a CNCjs server
or straight to a GRBL controller.`

// logFlags are global logging overrides.
type logFlags struct {
	Level *string `help:"Log level: error, warn, info, debug, trace."`
	File  *string `help:"Also write logs to this file."`
}

// CLI is the root command structure for kong.
type CLI struct {
	Config  *string          `help:"Config file path (default ${default_config})." placeholder:"PATH"`
	Log     logFlags         `embed:"" prefix:"log."`
	Version kong.VersionFlag `help:"Print version and exit."`

	Run         RunCmd         `cmd:"" default:"withargs" help:"Run the pendant (default)."`
	Controllers ControllersCmd `cmd:"" help:"List gamepad models and their control names."`
	Mapping     MappingCmd     `cmd:"" help:"Print the mapping table the pendant would use."`
	InitConfig  InitConfigCmd  `cmd:"" name:"init-config" help:"Write a default config file."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("cncpendant"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.Vars{"version": version, "default_config": defaultConfigPath},
	)

	path, explicit := defaultConfigPath, false
	if cli.Config != nil {
		path, explicit = *cli.Config, true
	}

	// init-config must work when the file is missing or broken.
	var cfg Config
	if kctx.Command() == "init-config" {
		cfg = DefaultConfig()
	} else {
		var err error
		cfg, err = loadConfig(path, explicit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
	}
	FlagOverrides{LogLevel: cli.Log.Level, LogFile: cli.Log.File}.Apply(&cfg)

	level, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	logger, closer, err := setupLogger(level, ExpandPath(cfg.Logging.File))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to setup logger:", err)
		os.Exit(2)
	}
	defer closer.Close()

	kctx.Bind(logger, &cfg, configPath(path))
	kctx.FatalIfErrorf(kctx.Run())
}

// configPath is the resolved --config value bound for commands.
type configPath string

// loadConfig reads the config file. A missing file at the default path falls
// back to defaults; a missing explicit path is an error.
func loadConfig(path string, explicit bool) (Config, error) {
	cfg, err := LoadConfigFile(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return Config{}, err
}

// ============================================================================
// run
// ============================================================================

// RunCmd runs the pendant daemon. Flags override the config file.
type RunCmd struct {
	Gamepad      *string `help:"Gamepad model: PS3, PS4, Xbox360, MMP1251, Generic."`
	Device       *string `help:"Joystick device path." placeholder:"PATH"`
	Machine      *string `help:"Machine profile: Shapeoko, Generic."`
	Sink         *string `help:"Command sink: cncjs or grbl."`
	CNCjsAddress *string `name:"cncjs.address" help:"CNCjs server address (host:port)."`
	CNCjsPort    *string `name:"cncjs.port" help:"Machine serial port on the CNCjs host."`
	UpdateHz     *int    `name:"update-hz" help:"Control loop rate in Hz."`
	IPCSocket    *string `name:"ipc-socket" help:"Unix socket for pendant-ctl." placeholder:"PATH"`
	Listen       *string `help:"Diagnostics HTTP address (/status, /ws); empty disables." placeholder:"ADDR"`
}

func (c *RunCmd) Run(cfg *Config, logger *slog.Logger) error {
	FlagOverrides{
		GamepadModel:  c.Gamepad,
		GamepadDevice: c.Device,
		Machine:       c.Machine,
		Sink:          c.Sink,
		CNCjsAddress:  c.CNCjsAddress,
		CNCjsPort:     c.CNCjsPort,
		UpdateHz:      c.UpdateHz,
		IPCSocketPath: c.IPCSocket,
		ListenAddr:    c.Listen,
	}.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runPendant(ctx, *cfg, logger)
}

// runPendant wires the components together and runs them until ctx is canceled
// or one of them fails.
func runPendant(ctx context.Context, cfg Config, logger *slog.Logger) error {
	model, err := ParseGamepadModel(cfg.Gamepad.Model)
	if err != nil {
		return err
	}
	names, err := NameTables(model)
	if err != nil {
		return err
	}
	mapping, err := cfg.BaseMapping()
	if err != nil {
		return err
	}

	sink, runSink, token, err := buildSink(cfg, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	if len(cfg.Macros) > 0 {
		macros, err := ResolveMacros(ctx, NewMacroClient(cfg.CNCjs.Address, token), cfg.Macros, logger)
		if err != nil {
			return err
		}
		// Macro buttons are fixed commands and go first.
		mapping = append(macros, mapping...)
	}
	if err := ValidateMapping(mapping, names); err != nil {
		return fmt.Errorf("mapping does not fit %s: %w", model.FullName(), err)
	}

	stats := NewDaemonStats()
	status := newPendantStatus(cfg, sink, stats)
	injected := make(chan Command, injectedQueueSize)
	observers := observerList{loggingObserver{logger: logger}}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Diagnostics.ListenAddr != "" {
		hub := NewHub(logger, HubConfig{})
		observers = append(observers, hub)
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return runDiagnosticsServer(gctx, cfg.Diagnostics.ListenAddr, newDiagnosticsMux(hub, status.Report, logger), logger)
		})
	}

	g.Go(func() error { return runSink(gctx) })
	g.Go(func() error {
		return runIPCServer(gctx, ExpandPath(cfg.IPC.SocketPath), injected, status.Report, logger)
	})
	g.Go(func() error {
		s := session{
			device:   cfg.Gamepad.Device,
			names:    names,
			mapping:  mapping,
			sink:     sink,
			updateHz: cfg.Control.UpdateHz,
			injected: injected,
			stats:    stats,
			status:   status,
			observer: observers,
			logger:   logger,
		}
		return s.runForever(gctx)
	})

	logger.Info("cncpendant started",
		"version", version,
		"gamepad", model.FullName(),
		"machine", cfg.Machine.Profile,
		"sink", cfg.Sink.Type,
		"update_hz", cfg.Control.UpdateHz)

	err = g.Wait()
	logger.Info("shutting down")
	return err
}

// buildSink creates the configured sink and the function that keeps it
// connected. For CNCjs it also returns the access token.
func buildSink(cfg Config, logger *slog.Logger) (CommandSink, func(context.Context) error, string, error) {
	switch cfg.Sink.Type {
	case SinkGrbl:
		g := NewGrblSink(GrblOptions{
			Device: cfg.Grbl.Device,
			Baud:   cfg.Grbl.Baud,
		}, logger)
		return g, g.Run, "", nil

	default:
		token, err := AccessTokenFromCNCrc(cfg.CNCjs.CNCrc, cfg.TokenTTL())
		if err != nil {
			return nil, nil, "", fmt.Errorf("CNCjs access token: %w", err)
		}
		c := NewCNCjsClient(CNCjsOptions{
			Address:        cfg.CNCjs.Address,
			Token:          token,
			Port:           cfg.CNCjs.Port,
			Baudrate:       cfg.CNCjs.Baudrate,
			ControllerType: cfg.CNCjs.ControllerType,
		}, logger)
		return c, c.Run, token, nil
	}
}

// session attaches the gamepad and runs the control loop, reattaching
// whenever the device goes away.
type session struct {
	device   string
	names    ControlNames
	mapping  []MappedCommand
	sink     CommandSink
	updateHz int
	injected <-chan Command
	stats    *DaemonStats
	status   *pendantStatus
	observer InputObserver
	logger   *slog.Logger
}

func (s *session) runForever(ctx context.Context) error {
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("gamepad session ended; reattaching", "error", err, "delay", defaultAttachRetry)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(defaultAttachRetry):
		}
	}
}

func (s *session) runOnce(ctx context.Context) error {
	f, err := Attach(ctx, s.device, s.logger)
	if err != nil {
		return err
	}

	tracker := NewTracker(f, s.names, s.observer)
	if err := tracker.StartBackgroundPump(); err != nil {
		_ = f.Close()
		return err
	}
	s.status.setTracker(tracker)
	defer func() {
		s.status.setTracker(nil)
		discardInjected(s.injected, s.stats, s.logger)
		tracker.Stop()
		// Closing the device unblocks the pump's pending read.
		_ = f.Close()
		<-tracker.Done()
	}()

	if err := tracker.WaitReady(ctx); err != nil {
		return err
	}
	s.logger.Info("gamepad ready",
		"buttons", len(tracker.AvailableButtonNames()),
		"axes", len(tracker.AvailableAxisNames()))

	err = runDaemon(ctx, tracker, s.mapping, s.sink, s.updateHz, s.injected, s.stats, s.observer, s.logger)
	if perr := tracker.Err(); perr != nil {
		return perr
	}
	return err
}

// ============================================================================
// controllers / mapping / init-config
// ============================================================================

// ControllersCmd lists gamepad models and their control names.
type ControllersCmd struct {
	Model string `arg:"" optional:"" help:"Only show this model."`
}

func (c *ControllersCmd) Run() error {
	return printControllers(os.Stdout, c.Model)
}

func printControllers(w io.Writer, only string) error {
	models := GamepadModels()
	if only != "" {
		m, err := ParseGamepadModel(only)
		if err != nil {
			return err
		}
		models = []GamepadModel{m}
	}

	for _, m := range models {
		names, err := NameTables(m)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s (%s)\n", m, m.FullName())
		if len(names.Buttons) == 0 && len(names.Axes) == 0 {
			fmt.Fprintln(w, "  controls are addressed by numeric index")
			continue
		}
		fmt.Fprintln(w, "  buttons:")
		for _, n := range names.SortedButtons() {
			fmt.Fprintf(w, "    %s\n", n)
		}
		fmt.Fprintln(w, "  axes:")
		for _, n := range names.SortedAxes() {
			fmt.Fprintf(w, "    %s\n", n)
		}
	}
	return nil
}

// MappingCmd prints the effective mapping table.
type MappingCmd struct {
	Gamepad *string `help:"Gamepad model (overrides config)."`
	Machine *string `help:"Machine profile (overrides config)."`
}

func (c *MappingCmd) Run(cfg *Config) error {
	FlagOverrides{GamepadModel: c.Gamepad, Machine: c.Machine}.Apply(cfg)
	return printMapping(os.Stdout, *cfg)
}

func printMapping(w io.Writer, cfg Config) error {
	model, err := ParseGamepadModel(cfg.Gamepad.Model)
	if err != nil {
		return err
	}
	names, err := NameTables(model)
	if err != nil {
		return err
	}
	mapping, err := cfg.BaseMapping()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s on %s\n", model.FullName(), cfg.Machine.Profile)
	for i, mc := range mapping {
		fmt.Fprintf(w, "%3d  %s\n", i, mc)
	}
	for _, m := range cfg.Macros {
		fmt.Fprintf(w, "  -  %s: macro %q\n", m.Button, m.Name)
	}
	return ValidateMapping(mapping, names)
}

// InitConfigCmd writes a default config file.
type InitConfigCmd struct {
	Force bool `help:"Overwrite an existing file."`
}

func (c *InitConfigCmd) Run(path configPath, logger *slog.Logger) error {
	if err := WriteDefaultConfig(string(path), c.Force); err != nil {
		return err
	}
	logger.Info("wrote default config", "path", ExpandPath(string(path)))
	return nil
}
