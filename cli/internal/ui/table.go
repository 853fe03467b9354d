package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// CallSummary is the exit report of one call.
type CallSummary struct {
	Status             string
	Room               string
	Self               string
	Peer               string
	PeerDevice         string
	Role               string
	Duration           string
	CandidatesSent     int64
	CandidatesReceived int64
	RemoteTracks       int64
}

func CallSummaryView(summary CallSummary) string {
	peer := summary.Peer
	if peer == "" {
		peer = "-"
	}
	if summary.PeerDevice != "" {
		peer = fmt.Sprintf("%s (%s)", peer, summary.PeerDevice)
	}

	headers := []string{"Metric", "Value"}
	rows := [][]string{
		{"Status", summary.Status},
		{"Room", summary.Room},
		{"You", summary.Self},
		{"Peer", peer},
		{"Role", summary.Role},
		{"Duration", summary.Duration},
		{"Candidates sent", fmt.Sprintf("%d", summary.CandidatesSent)},
		{"Candidates received", fmt.Sprintf("%d", summary.CandidatesReceived)},
		{"Remote tracks", fmt.Sprintf("%d", summary.RemoteTracks)},
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func RenderCallSummary(summary CallSummary) {
	fmt.Println(TitleStyle.Render("Call summary"))
	fmt.Println(CallSummaryView(summary))
}

// RoomInfo is the banner shown after joining a room.
type RoomInfo struct {
	RoomID string
	Self   string
	Server string
	Media  []string
}

func NewRoomInfo(roomID, self, server string, media []string) *RoomInfo {
	return &RoomInfo{
		RoomID: roomID,
		Self:   self,
		Server: server,
		Media:  media,
	}
}

func (r *RoomInfo) View() string {
	media := "none"
	mediaIcon := IconMic
	if len(r.Media) > 0 {
		media = strings.Join(r.Media, " + ")
	}
	for _, kind := range r.Media {
		if kind == "video" {
			mediaIcon = IconCamera
		}
	}

	content := fmt.Sprintf("%s Joined!\n\n%s Room:    %s\n%s You:     %s\n%s Media:   %s\n%s Server:  %s\n\n%s %s",
		IconCall,
		IconRoom, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconPeer, r.Self,
		mediaIcon, media,
		IconWeb, MutedStyle.Render(r.Server),
		IconWaiting, MutedStyle.Render("Share the room id with the person you want to call."),
	)

	return SuccessBoxStyle.Render(content)
}
