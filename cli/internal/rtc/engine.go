package rtc

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/BioHazard786/Warpcall/cli/internal/negotiation"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
)

// Options configures an Engine.
type Options struct {
	// Config carries the ICE servers and transport policy.
	Config webrtc.Configuration
	// Net replaces the host network, used with vnet in tests.
	Net    transport.Net
	Logger *slog.Logger
	// Device is announced to the peer over the hello channel.
	Device DeviceInfo
}

// Engine builds pion peer connections for the negotiation machine.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *slog.Logger
	device DeviceInfo

	remoteTracks atomic.Int64
	remoteDevice chan DeviceInfo
}

// NewEngine prepares the pion API with default codecs and slog logging.
func NewEngine(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	se := webrtc.SettingEngine{LoggerFactory: LoggerFactory{Logger: logger}}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(se),
			webrtc.WithMediaEngine(mediaEngine),
		),
		config:       opts.Config,
		logger:       logger,
		device:       opts.Device,
		remoteDevice: make(chan DeviceInfo, 1),
	}, nil
}

// NewPeerConnection creates a handle wired to obs, with the hello channel
// already declared.
func (e *Engine) NewPeerConnection(obs negotiation.Observer) (negotiation.PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || obs.OnCandidate == nil {
			return
		}
		obs.OnCandidate(c.ToJSON())
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.logger.Debug("connection state changed", "state", s.String())
		if obs.OnConnectionState != nil {
			obs.OnConnectionState(s)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.remoteTracks.Add(1)
		e.logger.Info("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		go drain(track)
	})

	if err := e.openHello(pc); err != nil {
		pc.Close()
		return nil, err
	}

	return pc, nil
}

// RemoteTracks counts tracks received across all handles.
func (e *Engine) RemoteTracks() int64 {
	return e.remoteTracks.Load()
}

// RemoteDevice yields the latest device info the peer announced.
func (e *Engine) RemoteDevice() <-chan DeviceInfo {
	return e.remoteDevice
}

func (e *Engine) openHello(pc *webrtc.PeerConnection) error {
	negotiated := true
	ordered := true
	id := helloID

	dc, err := pc.CreateDataChannel(HelloLabel, &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		return fmt.Errorf("create hello channel: %w", err)
	}

	dc.OnOpen(func() {
		data, err := EncodeDeviceInfo(e.device)
		if err != nil {
			e.logger.Warn("encode device info", "error", err)
			return
		}
		if err := dc.Send(data); err != nil {
			e.logger.Debug("send device info", "error", err)
		}
	})

	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		msg, err := ParseMessage(m.Data)
		if err != nil {
			e.logger.Debug("bad hello frame", "error", err)
			return
		}
		if msg.Type != MessageTypeDeviceInfo {
			return
		}
		var info DeviceInfo
		if err := msg.DecodePayload(&info); err != nil {
			e.logger.Debug("bad device info", "error", err)
			return
		}
		e.logger.Info("peer device", "name", info.DeviceName, "version", info.DeviceVersion)

		// Latest wins.
		select {
		case <-e.remoteDevice:
		default:
		}
		select {
		case e.remoteDevice <- info:
		default:
		}
	})

	return nil
}

// drain reads RTP until the track ends. Nothing renders it.
func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
