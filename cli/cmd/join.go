package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/Warpcall/cli/internal/config"
	"github.com/BioHazard786/Warpcall/cli/internal/lifecycle"
	"github.com/BioHazard786/Warpcall/cli/internal/rtc"
	"github.com/BioHazard786/Warpcall/cli/internal/ui"
	"github.com/BioHazard786/Warpcall/cli/internal/utils"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

var (
	flagDomain     string
	flagServer     string
	flagSTUN       string
	flagTURN       string
	flagTURNUser   string
	flagTURNPass   string
	flagICEServers string
	flagRelay      bool
	flagAudioOnly  bool
	flagNoMedia    bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room>",
	Aliases: []string{"j"},
	Short:   "Join a room and call whoever else joins it",
	Long: `Join a room on the signaling server. The first person in the room waits;
the second one to join triggers the call.

Examples:
  warpcall join 42
  warpcall join --audio-only standup
  warpcall join --server ws://localhost:8080/ws 42
  warpcall join --relay --turn turn:turn.example.com:3478 -u user -p pass 42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(cmd.Context(), args[0])
	},
}

func joinRoom(parent context.Context, room string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(config.Options{
		Domain:         flagDomain,
		ServerURL:      flagServer,
		STUNServer:     flagSTUN,
		TURNServer:     flagTURN,
		TURNUser:       flagTURNUser,
		TURNPass:       flagTURNPass,
		ICEServersJSON: flagICEServers,
		ForceRelay:     flagRelay,
	})
	if err != nil {
		return err
	}

	session, err := NewCallSession(cfg, mediaSource())
	if err != nil {
		return err
	}
	defer session.Close()

	if cfg.ICETransportPolicy() == webrtc.ICETransportPolicyRelay {
		ui.PrintWarning("Relay mode: media goes through the TURN server")
	}

	if flagAudioOnly {
		ui.PrintInfo("Audio only: no video track will be sent")
	}

	connecting := ui.NewConnectionSpinner("Connecting to server...")
	connecting.Start()
	if err := session.Lifecycle.Start(ctx); err != nil {
		connecting.Error("Could not reach the signaling server")
		return err
	}
	connecting.Success("Connected to signaling server")

	joining := ui.NewWaitingSpinner("Starting local media...")
	joining.Start()
	if err := session.Lifecycle.Join(ctx, room); err != nil {
		joining.Error("Could not join the room")
		if errors.Is(err, lifecycle.ErrMediaUnavailable) {
			return lifecycle.WrapError("join", err, "check that a microphone or camera is available and allowed")
		}
		return err
	}
	joining.Stop()

	fmt.Println()
	fmt.Println(ui.NewRoomInfo(room, utils.ShortID(session.Lifecycle.Self()), cfg.WebSocketURL, mediaKinds()).View())

	callErr := runCall(ctx, session, room)

	session.Close()
	fmt.Println()
	summary := session.Summary()
	ui.RenderCallSummary(summary)
	if callErr == nil && summary.Peer != "" {
		ui.PrintSuccessf("Call with %s ended", summary.Peer)
	}
	return callErr
}

// runCall shows the live view until the user hangs up, the process is
// interrupted, or the relay goes away.
func runCall(ctx context.Context, session *CallSession, room string) error {
	callUI := ui.NewCallUI(room)
	callUI.Start()
	defer callUI.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-callUI.Hangup():
			return nil

		case u := <-session.Lifecycle.Updates():
			update := ui.StatusUpdate{Status: u.Status.String(), Peer: u.Peer}
			if u.Err != nil {
				update.Err = u.Err.Error()
			}
			callUI.Update(update)

			if u.Status == lifecycle.StatusDisconnected {
				return lifecycle.NewError("call", lifecycle.ErrSignalingLost)
			}
		}
	}
}

func mediaSource() rtc.Source {
	if flagNoMedia {
		return rtc.DeniedSource{}
	}
	return rtc.SyntheticSource{Audio: true, Video: !flagAudioOnly}
}

func mediaKinds() []string {
	if flagAudioOnly {
		return []string{"audio"}
	}
	return []string{"audio", "video"}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom domain")
	joinCmd.Flags().StringVar(&flagServer, "server", "", "Signaling server websocket URL (overrides --domain)")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().StringVar(&flagICEServers, "ice-servers", "", "ICE servers as a JSON list (replaces STUN/TURN flags)")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().BoolVar(&flagAudioOnly, "audio-only", false, "Send audio only")
	joinCmd.Flags().BoolVar(&flagNoMedia, "no-media", false, "Pretend capture is denied")
}
