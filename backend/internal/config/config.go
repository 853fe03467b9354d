package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Default configuration values
const (
	DefaultAddr       = ":8080"
	DefaultLogLevel   = "info"
	DefaultSendBuffer = 256
)

// Config holds the signaling server configuration
type Config struct {
	// Addr is the address the HTTP server listens on
	Addr string

	// LogLevel is one of dev, debug, info, warn, error
	LogLevel string

	// SendBuffer is the per-client outbound message buffer
	SendBuffer int

	// AllowedOrigins restricts websocket upgrades; empty allows every origin
	AllowedOrigins []string

	// PeerLeft enables peer-left notifications to the remaining occupant
	PeerLeft bool
}

// Options carries CLI flag overrides. Zero values mean "not set".
type Options struct {
	Addr           string
	LogLevel       string
	SendBuffer     int
	AllowedOrigins []string
	PeerLeft       *bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	addr := opts.Addr
	if addr == "" {
		addr = os.Getenv("ADDR")
	}
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		}
	}
	if addr == "" {
		addr = DefaultAddr
	}

	logLevel := opts.LogLevel
	if logLevel == "" {
		logLevel = os.Getenv("LOG_LEVEL")
	}
	if logLevel == "" {
		logLevel = DefaultLogLevel
	}

	sendBuffer := opts.SendBuffer
	if sendBuffer == 0 {
		if raw := os.Getenv("SEND_BUFFER"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("SEND_BUFFER: %w", err)
			}
			sendBuffer = n
		}
	}
	if sendBuffer == 0 {
		sendBuffer = DefaultSendBuffer
	}
	if sendBuffer < 0 {
		return nil, fmt.Errorf("send buffer must be positive, got %d", sendBuffer)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = splitList(os.Getenv("ALLOWED_ORIGINS"))
	}

	peerLeft := true
	if opts.PeerLeft != nil {
		peerLeft = *opts.PeerLeft
	} else if raw := os.Getenv("PEER_LEFT"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("PEER_LEFT: %w", err)
		}
		peerLeft = v
	}

	return &Config{
		Addr:           addr,
		LogLevel:       logLevel,
		SendBuffer:     sendBuffer,
		AllowedOrigins: origins,
		PeerLeft:       peerLeft,
	}, nil
}

// OriginAllowed reports whether a websocket upgrade from origin is accepted.
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
