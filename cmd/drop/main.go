// Drop: CLI entry point.
//
// This tool moves files directly between two machines over a WebRTC
// DataChannel. A relay only pairs the two endpoints and forwards their
// connection setup; file bytes never pass through it.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role relay|send|receive, ...). Files to send are positional
// arguments.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/drop/internal/app"
	"github.com/1ureka/drop/internal/config"
	"github.com/1ureka/drop/internal/discovery"
	"github.com/1ureka/drop/internal/relay"
	"github.com/1ureka/drop/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	relayCfg := config.DefaultRelayConfig()
	if err := relayCfg.ApplyEnv(); err != nil {
		util.LogError("invalid environment: %v", err)
		os.Exit(1)
	}
	endpoint := config.DefaultConfig("")

	// CLI flags.
	role := flag.String("role", "", "Role: relay, send or receive")

	flag.StringVar(&relayCfg.Addr, "addr", relayCfg.Addr, "Relay listen address (relay only)")
	flag.BoolVar(&relayCfg.DevMode, "dev", relayCfg.DevMode, "Accept any Origin (relay only)")
	origins := flag.String("origins", strings.Join(relayCfg.AllowedOrigins, ","), "Comma-separated allowed Origin prefixes when -dev=false (relay only)")
	flag.IntVar(&relayCfg.MaxConnectionsPerIP, "maxConnsPerIP", relayCfg.MaxConnectionsPerIP, "Concurrent signaling connections per source IP (relay only)")
	flag.BoolVar(&relayCfg.Advertise, "mdns", relayCfg.Advertise, "Advertise the relay on the local network (relay only)")

	flag.StringVar(&endpoint.RelayURL, "relay", endpoint.RelayURL, "Relay URL; empty searches the local network (send/receive)")
	flag.StringVar(&endpoint.ConnectionID, "id", "", "Connection id: requested id (send) or id to join (receive)")
	flag.StringVar(&endpoint.OutputDir, "out", endpoint.OutputDir, "Directory for received files (receive only)")
	flag.IntVar(&endpoint.ChunkSize, "chunk", endpoint.ChunkSize, "Transfer chunk size in bytes (send only)")
	ice := flag.String("ice", strings.Join(endpoint.ICEServers, ","), "Comma-separated STUN/TURN URLs; empty uses public STUN (send/receive)")
	flag.BoolVar(&endpoint.Loopback, "loopback", false, "Allow loopback candidates, for both peers on one machine (send/receive)")

	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}
	relayCfg.AllowedOrigins = config.SplitList(*origins)
	endpoint.ICEServers = config.SplitList(*ice)
	endpoint.Files = flag.Args()

	pterm.Info.Println(fmt.Sprintf("Drop — v%s", version))
	pterm.Println()

	switch config.Role(*role) {
	case "":
		// No -role flag → interactive mode.
		runInteractive(ctx, relayCfg, endpoint)

	case config.RoleRelay:
		runRelay(ctx, relayCfg)

	case config.RoleSend:
		endpoint.Role = config.RoleSend
		runSend(ctx, endpoint)

	case config.RoleReceive:
		endpoint.Role = config.RoleReceive
		runReceive(ctx, endpoint)

	default:
		util.LogError("invalid -role: must be 'relay', 'send' or 'receive'")
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive asks for the role and the role's essentials when no -role
// flag is provided.
func runInteractive(ctx context.Context, relayCfg config.RelayConfig, endpoint config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Send    — Offer files to a peer",
			"Receive — Accept files from a peer",
			"Relay   — Pair peers for others",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(role, "Send"):
		endpoint.Role = config.RoleSend
		endpoint.Files = askFiles()
		endpoint.RelayURL = askRelayURL(endpoint.RelayURL)
		runSend(ctx, endpoint)

	case strings.HasPrefix(role, "Receive"):
		endpoint.Role = config.RoleReceive
		endpoint.ConnectionID = askText("Connection id shown by the sender", util.IsConnectionID)
		endpoint.RelayURL = askRelayURL(endpoint.RelayURL)
		runReceive(ctx, endpoint)

	default:
		runRelay(ctx, relayCfg)
	}
}

// runRelay serves the signaling relay until Ctrl+C.
func runRelay(ctx context.Context, cfg config.RelayConfig) {
	if err := cfg.Validate(); err != nil {
		util.LogError("invalid relay configuration: %v", err)
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		util.LogError("failed to start relay: %v", err)
		os.Exit(1)
	}

	if cfg.Advertise {
		host, _ := os.Hostname()
		adv, err := discovery.Advertise(discovery.Config{
			Instance: "drop relay on " + host,
			Port:     listener.Addr().(*net.TCPAddr).Port,
		})
		if err != nil {
			util.LogWarning("mDNS advertisement disabled: %v", err)
		} else {
			defer adv.Stop()
		}
	}

	util.StartStatsReporter(ctx, cfg.StatsInterval)

	if err := relay.NewServer(cfg).Serve(ctx, listener); err != nil {
		util.LogError("relay stopped: %v", err)
		os.Exit(1)
	}
	util.LogInfo("relay shut down")
}

// runSend transfers the configured files to one receiver.
func runSend(ctx context.Context, cfg config.Config) {
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.StartStatsReporter(ctx, config.DefaultStatsInterval)

	if err := app.RunSender(ctx, cfg); err != nil {
		util.LogError("transfer failed: %v", err)
		os.Exit(1)
	}
	util.LogSuccess("all files sent")
}

// runReceive accepts files until the sender leaves or Ctrl+C.
func runReceive(ctx context.Context, cfg config.Config) {
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.StartStatsReporter(ctx, config.DefaultStatsInterval)

	paths, err := app.RunReceiver(ctx, cfg)
	if err != nil {
		util.LogError("receive failed: %v", err)
		os.Exit(1)
	}
	util.LogSuccess("received %d file(s) into %s", len(paths), cfg.OutputDir)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askText prompts until valid accepts the trimmed input.
func askText(prompt string, valid func(string) bool) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		raw = strings.TrimSpace(raw)
		if valid(raw) {
			pterm.Println()
			return raw
		}

		util.LogWarning("invalid input, please try again")
		pterm.Println()
	}
}

// askFiles prompts for one or more existing regular files.
func askFiles() []string {
	raw := askText("Files to send (comma-separated paths)", func(s string) bool {
		paths := config.SplitList(s)
		if len(paths) == 0 {
			return false
		}
		for _, p := range paths {
			info, err := os.Stat(p)
			if err != nil || info.IsDir() {
				util.LogWarning("not a file: %s", p)
				return false
			}
		}
		return true
	})
	return config.SplitList(raw)
}

// askRelayURL prompts for the relay; blank means discover over mDNS.
func askRelayURL(current string) string {
	if current != "" {
		return current
	}
	return askText("Relay URL (blank to search the local network)", func(s string) bool {
		if s == "" {
			return true
		}
		_, err := config.NormalizeWSURL(s)
		return err == nil
	})
}
