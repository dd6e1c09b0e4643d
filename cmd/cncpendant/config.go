package main

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the pendant daemon.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config.
type Config struct {
	Gamepad     GamepadConfig     `yaml:"gamepad"`
	Machine     MachineConfig     `yaml:"machine"`
	Sink        SinkConfig        `yaml:"sink"`
	CNCjs       CNCjsConfig       `yaml:"cncjs"`
	Grbl        GrblConfig        `yaml:"grbl"`
	Control     ControlConfig     `yaml:"control"`
	Macros      []MacroBinding    `yaml:"macros,omitempty"`
	Mappings    []MappingConfig   `yaml:"mappings,omitempty"`
	IPC         IPCConfig         `yaml:"ipc"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type GamepadConfig struct {
	Model  string `yaml:"model"`
	Device string `yaml:"device"`
}

type MachineConfig struct {
	Profile string `yaml:"profile"`
}

// Sink types
const (
	SinkCNCjs = "cncjs"
	SinkGrbl  = "grbl"
)

type SinkConfig struct {
	Type string `yaml:"type"`
}

type CNCjsConfig struct {
	Address        string `yaml:"address"` // host:port of the CNCjs server
	Port           string `yaml:"port"`    // serial port of the machine on the CNCjs host
	Baudrate       int    `yaml:"baudrate"`
	ControllerType string `yaml:"controller_type"`
	CNCrc          string `yaml:"cncrc"`
	TokenTTLSec    int    `yaml:"token_ttl_sec"`
}

type GrblConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type ControlConfig struct {
	UpdateHz int `yaml:"update_hz"`
}

// MacroBinding runs the CNCjs macro called Name when Button is pressed.
type MacroBinding struct {
	Button string `yaml:"button"`
	Name   string `yaml:"name"`
}

// MappingConfig is one entry of a custom mapping table. Exactly one of
// Commands, Direction or Axis selects its shape.
type MappingConfig struct {
	Button          string           `yaml:"button,omitempty"`
	Commands        [][]string       `yaml:"commands,omitempty"`
	RepeatIfPressed bool             `yaml:"repeat_if_pressed,omitempty"`
	Move            string           `yaml:"move,omitempty"`
	Direction       string           `yaml:"direction,omitempty"`
	Magnitude       *MagnitudeConfig `yaml:"magnitude,omitempty"`
	Axis            *MagnitudeConfig `yaml:"axis,omitempty"`
	Reverse         bool             `yaml:"reverse,omitempty"`
}

// MagnitudeConfig is the YAML form of MagnitudeAxis. Unset fields keep defaults.
type MagnitudeConfig struct {
	Label            string   `yaml:"label"`
	SlowStep         *float64 `yaml:"slow_step,omitempty"`
	MidStep          *float64 `yaml:"mid_step,omitempty"`
	FastStep         *float64 `yaml:"fast_step,omitempty"`
	SlowBelow        *float64 `yaml:"slow_below,omitempty"`
	FastAbove        *float64 `yaml:"fast_above,omitempty"`
	TriggerAbove     *float64 `yaml:"trigger_above,omitempty"` // unset: always triggered
	UseAbsoluteInput bool     `yaml:"use_absolute_input,omitempty"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type DiagnosticsConfig struct {
	ListenAddr string `yaml:"listen_addr"` // empty disables the HTTP server
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Gamepad: GamepadConfig{
			Model:  string(GamepadPS3),
			Device: defaultDevicePath,
		},
		Machine: MachineConfig{
			Profile: string(MachineShapeoko),
		},
		Sink: SinkConfig{
			Type: SinkCNCjs,
		},
		CNCjs: CNCjsConfig{
			Address:        defaultCNCjsAddress,
			Port:           defaultCNCjsPort,
			Baudrate:       defaultBaudrate,
			ControllerType: defaultControllerType,
			CNCrc:          defaultCNCrcPath,
			TokenTTLSec:    int(defaultTokenTTL / time.Second),
		},
		Grbl: GrblConfig{
			Device: defaultGrblDevice,
			Baud:   defaultBaudrate,
		},
		Control: ControlConfig{
			UpdateHz: defaultUpdateHz,
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields and trailing documents are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	var extra any
	if err := dec.Decode(&extra); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// WriteDefaultConfig writes DefaultConfig to path. An existing file is only
// replaced when force is set.
func WriteDefaultConfig(path string, force bool) error {
	path = ExpandPath(path)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	b, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	header := []byte("# cncpendant configuration\n")
	if err := os.WriteFile(path, append(header, b...), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// FlagOverrides are command line values applied on top of the file config.
// A nil pointer means the flag was not given.
type FlagOverrides struct {
	GamepadModel  *string
	GamepadDevice *string
	Machine       *string
	Sink          *string

	CNCjsAddress *string
	CNCjsPort    *string

	UpdateHz *int

	IPCSocketPath *string
	ListenAddr    *string

	LogLevel *string
	LogFile  *string
}

// Apply merges the overrides into cfg. Non-nil pointers are applied even when
// they hold a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	set(&cfg.Gamepad.Model, o.GamepadModel)
	set(&cfg.Gamepad.Device, o.GamepadDevice)
	set(&cfg.Machine.Profile, o.Machine)
	set(&cfg.Sink.Type, o.Sink)
	set(&cfg.CNCjs.Address, o.CNCjsAddress)
	set(&cfg.CNCjs.Port, o.CNCjsPort)
	if o.UpdateHz != nil {
		cfg.Control.UpdateHz = *o.UpdateHz
	}
	set(&cfg.IPC.SocketPath, o.IPCSocketPath)
	set(&cfg.Diagnostics.ListenAddr, o.ListenAddr)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Logging.File, o.LogFile)
}

// Validate checks config invariants and returns a user-friendly error.
// It is called after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	if _, err := ParseGamepadModel(c.Gamepad.Model); err != nil {
		return fmt.Errorf("gamepad.model: %w", err)
	}
	if c.Gamepad.Device == "" {
		return errors.New("gamepad.device must not be empty")
	}
	if len(c.Mappings) == 0 {
		if _, err := ParseMachineProfile(c.Machine.Profile); err != nil {
			return fmt.Errorf("machine.profile: %w", err)
		}
	}

	switch c.Sink.Type {
	case SinkCNCjs:
		if c.CNCjs.Address == "" {
			return errors.New("cncjs.address must not be empty")
		}
		if c.CNCjs.Port == "" {
			return errors.New("cncjs.port must not be empty")
		}
		if c.CNCjs.Baudrate <= 0 {
			return errors.New("cncjs.baudrate must be > 0")
		}
		if c.CNCjs.CNCrc == "" {
			return errors.New("cncjs.cncrc must not be empty")
		}
		if c.CNCjs.TokenTTLSec <= 0 {
			return errors.New("cncjs.token_ttl_sec must be > 0")
		}
	case SinkGrbl:
		if c.Grbl.Device == "" {
			return errors.New("grbl.device must not be empty")
		}
		if c.Grbl.Baud <= 0 {
			return errors.New("grbl.baud must be > 0")
		}
		if len(c.Macros) > 0 {
			return errors.New("macros require sink.type cncjs")
		}
	default:
		return fmt.Errorf("sink.type must be %q or %q", SinkCNCjs, SinkGrbl)
	}

	if c.Control.UpdateHz <= 0 || c.Control.UpdateHz > maxUpdateHz {
		return fmt.Errorf("control.update_hz must be between 1 and %d", maxUpdateHz)
	}

	for i, m := range c.Macros {
		if m.Button == "" || m.Name == "" {
			return fmt.Errorf("macros[%d] needs both button and name", i)
		}
	}
	if _, err := c.CustomMapping(); err != nil {
		return err
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// BaseMapping returns the custom mapping table when one is configured and the
// registry table for the gamepad and machine otherwise.
func (c *Config) BaseMapping() ([]MappedCommand, error) {
	custom, err := c.CustomMapping()
	if err != nil {
		return nil, err
	}
	if custom != nil {
		return custom, nil
	}

	model, err := ParseGamepadModel(c.Gamepad.Model)
	if err != nil {
		return nil, err
	}
	machine, err := ParseMachineProfile(c.Machine.Profile)
	if err != nil {
		return nil, err
	}
	return LookupMapping(model, machine)
}

// CustomMapping converts the mappings section. It returns nil when the section is empty.
func (c *Config) CustomMapping() ([]MappedCommand, error) {
	if len(c.Mappings) == 0 {
		return nil, nil
	}
	out := make([]MappedCommand, 0, len(c.Mappings))
	for i, mc := range c.Mappings {
		m, err := mc.toMapped()
		if err != nil {
			return nil, fmt.Errorf("mappings[%d]: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (mc MappingConfig) toMapped() (MappedCommand, error) {
	shapes := 0
	if len(mc.Commands) > 0 {
		shapes++
	}
	if mc.Direction != "" {
		shapes++
	}
	if mc.Axis != nil {
		shapes++
	}
	if shapes != 1 {
		return MappedCommand{}, errors.New("exactly one of commands, direction or axis must be set")
	}

	switch {
	case len(mc.Commands) > 0:
		if mc.Button == "" {
			return MappedCommand{}, errors.New("commands need a button")
		}
		cmds := make([]Command, 0, len(mc.Commands))
		for _, args := range mc.Commands {
			if len(args) == 0 {
				return MappedCommand{}, ErrEmptyCommand
			}
			cmds = append(cmds, NewCommand(args...))
		}
		m := FixedButton(mc.Button, cmds...)
		m.RepeatIfPressed = mc.RepeatIfPressed
		return m, nil

	case mc.Direction != "":
		if mc.Button == "" {
			return MappedCommand{}, errors.New("direction needs a button")
		}
		if mc.Magnitude == nil {
			return MappedCommand{}, errors.New("direction needs a magnitude axis")
		}
		dir, err := ParseDirection(mc.Direction)
		if err != nil {
			return MappedCommand{}, err
		}
		axis, err := ParseMovementAxis(mc.Move)
		if err != nil {
			return MappedCommand{}, err
		}
		mag := mc.Magnitude.toAxis()
		return MappedCommand{
			Button:          mc.Button,
			MovementAxis:    axis,
			Direction:       dir,
			Magnitude:       &mag,
			RepeatIfPressed: mc.RepeatIfPressed,
		}, nil

	default:
		if mc.Button != "" {
			return MappedCommand{}, errors.New("axis entries take no button")
		}
		axis, err := ParseMovementAxis(mc.Move)
		if err != nil {
			return MappedCommand{}, err
		}
		return AxisMove(mc.Axis.toAxis(), axis, mc.Reverse), nil
	}
}

func (m MagnitudeConfig) toAxis() MagnitudeAxis {
	a := NewMagnitudeAxis(m.Label)
	apply := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&a.SlowStep, m.SlowStep)
	apply(&a.MidStep, m.MidStep)
	apply(&a.FastStep, m.FastStep)
	apply(&a.SlowBelow, m.SlowBelow)
	apply(&a.FastAbove, m.FastAbove)
	a.TriggerAbove = math.Inf(-1)
	apply(&a.TriggerAbove, m.TriggerAbove)
	a.UseAbsoluteInput = m.UseAbsoluteInput
	return a
}

// TokenTTL returns the CNCjs token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.CNCjs.TokenTTLSec) * time.Second
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
