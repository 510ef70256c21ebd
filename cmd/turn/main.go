package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"

	"github.com/irdkwmnsb/webrtc-meeting/internal/config"
	"github.com/irdkwmnsb/webrtc-meeting/internal/logging"
	"github.com/pion/turn/v2"
	"github.com/spf13/cobra"
)

var userPattern = regexp.MustCompile(`^(\w+)=(\w+)$`)

func main() {
	var (
		configDir string
		overrides config.TURNConfig
		users     []string
	)

	cmd := &cobra.Command{
		Use:           "turn",
		Short:         "TURN server for meeting participants behind NAT",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadAppConfig(configDir)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Log)

			turnCfg := cfg.TURN
			flags := cmd.Flags()
			if flags.Changed("public-ip") {
				turnCfg.PublicIP = overrides.PublicIP
			}
			if flags.Changed("public-ipv6") {
				turnCfg.PublicIPv6 = overrides.PublicIPv6
			}
			if flags.Changed("port") {
				turnCfg.Port = overrides.Port
			}
			if flags.Changed("realm") {
				turnCfg.Realm = overrides.Realm
			}
			if flags.Changed("relay-port-min") {
				turnCfg.RelayPortMin = overrides.RelayPortMin
			}
			if flags.Changed("relay-port-max") {
				turnCfg.RelayPortMax = overrides.RelayPortMax
			}
			if flags.Changed("user") {
				turnCfg.Users = users
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, turnCfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configDir, "config", "conf", "directory with configuration files")
	flags.StringVar(&overrides.PublicIP, "public-ip", "", "IPv4 address that TURN can be contacted by")
	flags.StringVar(&overrides.PublicIPv6, "public-ipv6", "", "IPv6 address that TURN can be contacted by")
	flags.IntVar(&overrides.Port, "port", 0, "listening port")
	flags.StringVar(&overrides.Realm, "realm", "", "authentication realm")
	flags.Uint16Var(&overrides.RelayPortMin, "relay-port-min", 0, "lowest relay port")
	flags.Uint16Var(&overrides.RelayPortMax, "relay-port-max", 0, "highest relay port")
	flags.StringArrayVar(&users, "user", nil, "username and password as user=pass, repeatable")

	if err := cmd.Execute(); err != nil {
		slog.Error("turn server failed", "error", err)
		os.Exit(1)
	}
}

// parseUsers turns user=pass entries into long-term credential keys.
func parseUsers(entries []string, realm string) (map[string][]byte, error) {
	keys := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		kv := userPattern.FindStringSubmatch(entry)
		if kv == nil {
			return nil, fmt.Errorf("malformed user entry %q, expected user=pass", entry)
		}
		keys[kv[1]] = turn.GenerateAuthKey(kv[1], realm, kv[2])
	}
	return keys, nil
}

func run(ctx context.Context, cfg config.TURNConfig) error {
	if cfg.PublicIP == "" {
		return errors.New("public ip is required")
	}
	if len(cfg.Users) == 0 {
		return errors.New("at least one user is required")
	}

	usersMap, err := parseUsers(cfg.Users, cfg.Realm)
	if err != nil {
		return err
	}

	// pion/turn does not allocate sockets itself, the listeners are passed in
	udpListener, err := net.ListenPacket("udp4", "0.0.0.0:"+strconv.Itoa(cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to create TURN server IPv4 listener: %w", err)
	}

	packetConnConfigs := []turn.PacketConnConfig{
		{
			PacketConn: udpListener,
			RelayAddressGenerator: &turn.RelayAddressGeneratorPortRange{
				RelayAddress: net.ParseIP(cfg.PublicIP),
				Address:      "0.0.0.0",
				MinPort:      cfg.RelayPortMin,
				MaxPort:      cfg.RelayPortMax,
			},
		},
	}

	if cfg.PublicIPv6 != "" {
		udpListenerIPv6, err := net.ListenPacket("udp6", "[::]:"+strconv.Itoa(cfg.Port))
		if err != nil {
			slog.Warn("failed to create TURN server IPv6 listener, continuing with IPv4 only", "error", err)
		} else {
			packetConnConfigs = append(packetConnConfigs, turn.PacketConnConfig{
				PacketConn: udpListenerIPv6,
				RelayAddressGenerator: &turn.RelayAddressGeneratorPortRange{
					RelayAddress: net.ParseIP(cfg.PublicIPv6),
					Address:      "::",
					MinPort:      cfg.RelayPortMin,
					MaxPort:      cfg.RelayPortMax,
				},
			})
		}
	}

	s, err := turn.NewServer(turn.ServerConfig{
		Realm: cfg.Realm,
		AuthHandler: func(username string, realm string, srcAddr net.Addr) ([]byte, bool) {
			if key, ok := usersMap[username]; ok {
				return key, true
			}
			slog.Debug("turn authentication failed", "user", username, "addr", srcAddr)
			return nil, false
		},
		PacketConnConfigs: packetConnConfigs,
	})
	if err != nil {
		return err
	}

	slog.Info("turn server is running", "port", cfg.Port, "realm", cfg.Realm, "users", len(usersMap))

	<-ctx.Done()
	return s.Close()
}
