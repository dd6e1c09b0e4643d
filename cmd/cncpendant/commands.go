package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ==============================
// Commands (outbound)
// ==============================

// Command kinds understood by the sinks. The first argument of a Command is its kind.
const (
	CommandGCode    = "gcode"
	CommandHoming   = "homing"
	CommandUnlock   = "unlock"
	CommandReset    = "reset"
	CommandMacroRun = "macro:run"
)

// ErrEmptyCommand is returned when decoding a command without arguments.
var ErrEmptyCommand = errors.New("command has no arguments")

// Command is an ordered, immutable list of string arguments. Sinks forward the
// arguments verbatim; the CNCjs sink prepends the serial port.
type Command struct {
	args []string
}

// NewCommand copies args into a new Command.
func NewCommand(args ...string) Command {
	return Command{args: slices.Clone(args)}
}

// GCode returns a raw G-code line command.
func GCode(line string) Command { return NewCommand(CommandGCode, line) }

// Homing returns the machine homing command.
func Homing() Command { return NewCommand(CommandHoming) }

// MacroRun returns a command running a CNCjs macro by id.
func MacroRun(id string) Command { return NewCommand(CommandMacroRun, id) }

// Arguments returns a copy of the command arguments.
func (c Command) Arguments() []string { return slices.Clone(c.args) }

// Kind returns the first argument, or "" for an empty command.
func (c Command) Kind() string {
	if len(c.args) == 0 {
		return ""
	}
	return c.args[0]
}

// Len returns the number of arguments.
func (c Command) Len() int { return len(c.args) }

// Equal reports whether both commands carry the same arguments.
func (c Command) Equal(o Command) bool { return slices.Equal(c.args, o.args) }

func (c Command) String() string {
	quoted := make([]string, len(c.args))
	for i, a := range c.args {
		quoted[i] = fmt.Sprintf("%q", a)
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

// MarshalJSON encodes the command as a JSON array of strings.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.args == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.args)
}

// UnmarshalJSON decodes a non-empty JSON array of strings.
func (c *Command) UnmarshalJSON(data []byte) error {
	var args []string
	if err := json.Unmarshal(data, &args); err != nil {
		return err
	}
	if len(args) == 0 {
		return ErrEmptyCommand
	}
	c.args = args
	return nil
}
