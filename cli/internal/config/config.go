package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Warpcall/cli/internal/utils"
)

// Default configuration values (production)
const (
	DefaultDomain = "warpcall.qzz.io"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
)

// Config holds application configuration
type Config struct {
	// Domain is the backend server domain
	Domain string

	// WebSocketURL is constructed from domain unless set explicitly
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ICEServersJSON, when set, replaces STUN/TURN entirely
	ICEServersJSON string

	// ForceRelay restricts ICE to TURN relay candidates
	ForceRelay bool
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain         string
	ServerURL      string
	STUNServer     string
	TURNServer     string
	TURNUser       string
	TURNPass       string
	ICEServersJSON string
	ForceRelay     bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := firstNonEmpty(opts.Domain, os.Getenv("DOMAIN"), DefaultDomain)
	stunServer := firstNonEmpty(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN)

	// TURN is opt-in; there is no public default relay
	turnServer := firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER"))
	turnUser := firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME"))
	turnPass := firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD"))
	iceJSON := firstNonEmpty(opts.ICEServersJSON, os.Getenv("ICE_SERVERS_JSON"))

	forceRelay := opts.ForceRelay
	if !forceRelay {
		if raw := os.Getenv("FORCE_RELAY"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("FORCE_RELAY: %w", err)
			}
			forceRelay = v
		}
	}

	wsURL := firstNonEmpty(opts.ServerURL, os.Getenv("SERVER_URL"))
	if wsURL == "" {
		wsURL = webSocketURL(domain)
	}

	cfg := &Config{
		Domain:         domain,
		WebSocketURL:   wsURL,
		STUNServer:     stunServer,
		TURNServer:     turnServer,
		TURNUser:       turnUser,
		TURNPass:       turnPass,
		ICEServersJSON: iceJSON,
		ForceRelay:     forceRelay,
	}

	// Parse once up front so a bad ICE list fails at startup, not mid-call
	if _, err := cfg.ICEServers(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// webSocketURL picks ws:// for local development hosts and wss:// otherwise
func webSocketURL(domain string) string {
	host := domain
	if h, _, err := net.SplitHostPort(domain); err == nil {
		host = h
	}
	if host == "localhost" || net.ParseIP(host) != nil {
		return fmt.Sprintf("ws://%s/ws", domain)
	}
	return fmt.Sprintf("wss://%s/ws", domain)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// ICEServers returns the static ICE configuration handed to every peer
// connection. ICEServersJSON wins over the STUN/TURN convenience fields.
func (c *Config) ICEServers() ([]webrtc.ICEServer, error) {
	if strings.TrimSpace(c.ICEServersJSON) != "" {
		servers, err := ParseICEServersJSON(c.ICEServersJSON)
		if err != nil {
			return nil, fmt.Errorf("ICE_SERVERS_JSON: %w", err)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer
	if stun := c.GetSTUNServers(); stun != nil {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if turn := c.GetTURNServers(); turn != nil {
		username, password := c.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return servers, nil
}

// HasRelay reports whether any configured ICE server is a TURN relay
func (c *Config) HasRelay() bool {
	servers, err := c.ICEServers()
	if err != nil {
		return false
	}
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}

// ICETransportPolicy returns relay-only when forced (or when the network
// looks like a VPN/CGNAT) and a relay is available.
func (c *Config) ICETransportPolicy() webrtc.ICETransportPolicy {
	if c.HasRelay() && (c.ForceRelay || utils.ShouldForceRelay()) {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

// PeerConnectionConfig is the full pion configuration for a new call leg
func (c *Config) PeerConnectionConfig() (webrtc.Configuration, error) {
	servers, err := c.ICEServers()
	if err != nil {
		return webrtc.Configuration{}, err
	}
	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: c.ICETransportPolicy(),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
