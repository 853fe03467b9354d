package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BioHazard786/Warpcall/cli/internal/config"
	"github.com/BioHazard786/Warpcall/cli/internal/lifecycle"
	"github.com/BioHazard786/Warpcall/cli/internal/rtc"
	"github.com/BioHazard786/Warpcall/cli/internal/signaling"
	"github.com/BioHazard786/Warpcall/cli/internal/ui"
	"github.com/BioHazard786/Warpcall/cli/internal/utils"
	"github.com/BioHazard786/Warpcall/cli/internal/version"
)

// CallSession bundles everything one `warpcall join` run owns.
type CallSession struct {
	Config    *config.Config
	Engine    *rtc.Engine
	Client    *signaling.Client
	Lifecycle *lifecycle.Lifecycle

	mu         sync.Mutex
	peerDevice string
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, lifecycle.NewError("load config", err)
	}

	if cfg.ForceRelay && !cfg.HasRelay() {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

func NewCallSession(cfg *config.Config, source rtc.Source) (*CallSession, error) {
	pcConfig, err := cfg.PeerConnectionConfig()
	if err != nil {
		return nil, lifecycle.NewError("ice configuration", err)
	}

	logger := slog.Default()
	engine, err := rtc.NewEngine(rtc.Options{
		Config: pcConfig,
		Logger: logger,
		Device: rtc.DeviceInfo{
			DeviceName:    "CLI",
			DeviceVersion: strings.TrimPrefix(version.Version, "v"),
		},
	})
	if err != nil {
		return nil, lifecycle.NewError("webrtc engine", err)
	}

	client := signaling.NewClient(cfg.WebSocketURL, logger)
	lc := lifecycle.New(lifecycle.Config{
		Transport: client,
		Media:     source,
		Factory:   engine,
		Logger:    logger,
	})

	return &CallSession{
		Config:    cfg,
		Engine:    engine,
		Client:    client,
		Lifecycle: lc,
	}, nil
}

// PeerDevice returns what the peer announced over the hello channel, if anything.
func (s *CallSession) PeerDevice() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case info := <-s.Engine.RemoteDevice():
		s.peerDevice = strings.TrimSpace(info.DeviceName + " " + info.DeviceVersion)
	default:
	}
	return s.peerDevice
}

func (s *CallSession) Summary() ui.CallSummary {
	sum := s.Lifecycle.Summary()
	return ui.CallSummary{
		Status:             sum.Status.String(),
		Room:               sum.Room,
		Self:               utils.ShortID(sum.Self),
		Peer:               utils.ShortID(sum.Peer),
		PeerDevice:         s.PeerDevice(),
		Role:               sum.Role,
		Duration:           utils.FormatTimeDuration(sum.Duration),
		CandidatesSent:     sum.CandidatesSent,
		CandidatesReceived: sum.CandidatesReceived,
		RemoteTracks:       s.Engine.RemoteTracks(),
	}
}

func (s *CallSession) Close() {
	s.Lifecycle.Close()
}
