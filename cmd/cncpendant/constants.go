package main

import "time"

// Control loop and transport defaults
const (
	defaultUpdateHz         = 10 // Control ticks per second
	defaultReconnectDelay   = time.Second
	defaultAttachRetry      = time.Second
	defaultTokenTTL         = 30 * 24 * time.Hour
	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteTimeout     = 2 * time.Second
	defaultHTTPTimeout      = 5 * time.Second
	injectedQueueSize       = 32 // Commands queued over IPC per tick at most
	maxUpdateHz             = 100
)

// Default endpoints and files
const (
	defaultConfigPath     = "~/.cncpendant.yaml"
	defaultDevicePath     = "/dev/input/js0"
	defaultCNCjsAddress   = "localhost:8000"
	defaultCNCjsPort      = "/dev/ttyUSB0"
	defaultBaudrate       = 115200
	defaultControllerType = "Grbl"
	defaultCNCrcPath      = "~/.cncrc"
	defaultSocketPath     = "/tmp/cncpendant.sock"
	defaultGrblDevice     = "/dev/ttyACM0"
)

// pendantUserName is the user name the pendant presents to CNCjs in its access token.
const pendantUserName = "cncjs-pendant"
