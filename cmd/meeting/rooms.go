package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/irdkwmnsb/webrtc-meeting/internal/api"
	"github.com/irdkwmnsb/webrtc-meeting/internal/ui"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

const requestTimeout = 5 * time.Second

func newRoomsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List the active rooms of the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			rooms, err := fetchRooms(httpURL(cfg.Client.RelayURL))
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, ui.RoomsView(rooms))
			return nil
		},
	}
}

func fetchRooms(base string) ([]api.Room, error) {
	status, body, err := fasthttp.GetTimeout(nil, base+"/api/rooms", requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to reach relay %s: %w", base, err)
	}
	if status != fasthttp.StatusOK {
		return nil, fmt.Errorf("relay answered %d: %s", status, strings.TrimSpace(string(body)))
	}

	var rooms []api.Room
	if err := json.Unmarshal(body, &rooms); err != nil {
		return nil, fmt.Errorf("unexpected rooms response: %w", err)
	}
	return rooms, nil
}

// httpURL maps a relay address of any scheme to its HTTP base url.
func httpURL(relay string) string {
	url := strings.TrimSuffix(relay, "/")
	switch {
	case strings.HasPrefix(url, "wss://"):
		return "https://" + strings.TrimPrefix(url, "wss://")
	case strings.HasPrefix(url, "ws://"):
		return "http://" + strings.TrimPrefix(url, "ws://")
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return url
	}
	return "http://" + url
}
