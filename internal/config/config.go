// Package config holds the relay and endpoint configuration types, their
// defaults, environment overrides and validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Role represents the part this process plays.
type Role string

const (
	RoleRelay   Role = "relay"
	RoleSend    Role = "send"
	RoleReceive Role = "receive"
)

const (
	// DefaultRelayAddr is the relay listen address when none is given.
	DefaultRelayAddr = ":8080"
	// DefaultMaxConnectionsPerIP caps concurrent signaling connections per source address.
	DefaultMaxConnectionsPerIP = 10
	// DefaultMessageRate is the sustained per-endpoint signaling message rate.
	DefaultMessageRate = 50
	// DefaultMessageBurst is the per-endpoint signaling burst allowance.
	DefaultMessageBurst = 200
	// DefaultStatsInterval is how often the relay logs traffic counters.
	DefaultStatsInterval = 10 * time.Second

	// DefaultChunkSize is the transfer chunk size (the higher-throughput policy).
	DefaultChunkSize = 256 * 1024
	// DefaultLowWaterMark pauses chunk production while the channel buffers more than this.
	DefaultLowWaterMark = 64 * 1024
)

// Environment variables that override file-less defaults.
const (
	EnvRelayAddr      = "DROP_RELAY_ADDR"
	EnvDevMode        = "DROP_DEV_MODE"
	EnvAllowedOrigins = "DROP_ALLOWED_ORIGINS"
	EnvMaxConnsPerIP  = "DROP_MAX_CONNECTIONS_PER_IP"
	EnvRelayURL       = "DROP_RELAY_URL"
	EnvICEServers     = "DROP_ICE_SERVERS"
)

// RelayConfig configures the signaling relay.
type RelayConfig struct {
	Addr                string   // listen address, e.g. ":8080"
	DevMode             bool     // accept any Origin
	AllowedOrigins      []string // prefix allow-list used when DevMode is false
	MaxConnectionsPerIP int      // admission ceiling per source address
	MessageRate         float64  // per-endpoint messages per second
	MessageBurst        int      // per-endpoint burst
	Advertise           bool     // announce the relay over mDNS
	StatsInterval       time.Duration
}

// DefaultRelayConfig returns a development-friendly relay configuration.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Addr:                DefaultRelayAddr,
		DevMode:             true,
		MaxConnectionsPerIP: DefaultMaxConnectionsPerIP,
		MessageRate:         DefaultMessageRate,
		MessageBurst:        DefaultMessageBurst,
		StatsInterval:       DefaultStatsInterval,
	}
}

// ApplyEnv overrides fields from DROP_* environment variables.
func (c *RelayConfig) ApplyEnv() error {
	if v := os.Getenv(EnvRelayAddr); v != "" {
		c.Addr = v
	}
	if v := os.Getenv(EnvDevMode); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDevMode, err)
		}
		c.DevMode = dev
	}
	if v := os.Getenv(EnvAllowedOrigins); v != "" {
		c.AllowedOrigins = SplitList(v)
	}
	if v := os.Getenv(EnvMaxConnsPerIP); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxConnsPerIP, err)
		}
		c.MaxConnectionsPerIP = n
	}
	return nil
}

// Validate reports the first invalid field.
func (c RelayConfig) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("relay address is required")
	}
	if c.MaxConnectionsPerIP < 1 {
		return fmt.Errorf("max connections per IP must be >= 1, got %d", c.MaxConnectionsPerIP)
	}
	if c.MessageRate <= 0 || c.MessageBurst < 1 {
		return errors.New("message rate and burst must be positive")
	}
	if !c.DevMode && len(c.AllowedOrigins) == 0 {
		return errors.New("restrictive origin mode requires at least one allowed origin")
	}
	return nil
}

// Config stores the endpoint (send/receive) parameters gathered from flags
// or the interactive prompts.
type Config struct {
	Role         Role
	RelayURL     string   // ws(s)://host/ws; empty means discover over mDNS
	ConnectionID string   // send: optional requested id; receive: required
	Files        []string // send: paths to transfer, in order
	OutputDir    string   // receive: directory for completed files
	ICEServers   []string // STUN/TURN URLs; nil selects the public STUN defaults
	Loopback     bool     // allow loopback candidates, for both peers on one host
	ChunkSize    int
	LowWaterMark uint64
}

// DefaultConfig returns endpoint defaults for role.
func DefaultConfig(role Role) Config {
	return Config{
		Role:         role,
		RelayURL:     os.Getenv(EnvRelayURL),
		ICEServers:   SplitList(os.Getenv(EnvICEServers)),
		OutputDir:    ".",
		ChunkSize:    DefaultChunkSize,
		LowWaterMark: DefaultLowWaterMark,
	}
}

// Validate reports the first invalid field for the configured role.
func (c Config) Validate() error {
	switch c.Role {
	case RoleSend:
		if len(c.Files) == 0 {
			return errors.New("at least one file is required")
		}
	case RoleReceive:
		if strings.TrimSpace(c.ConnectionID) == "" {
			return errors.New("connection id is required to receive")
		}
	default:
		return fmt.Errorf("invalid role %q for an endpoint", c.Role)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be >= 1, got %d", c.ChunkSize)
	}
	if c.RelayURL != "" {
		if _, err := NormalizeWSURL(c.RelayURL); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeWSURL validates a raw relay address and returns the WebSocket
// endpoint URL. Bare hosts default to wss; http(s) schemes map to ws(s).
func NormalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}

	scheme := "wss"
	switch u.Scheme {
	case "ws", "http":
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
