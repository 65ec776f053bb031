// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openvee/veelink/internal/relay"
)

var (
	relayListen     string
	relayName       string
	relayNoAnnounce bool

	relayDiscoverTimeout int

	relayPingTimeout int
	relayPingCount   int
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Share a trainer over the network or reach a shared one",
	Long: `Expose a locally connected trainer to remote veelink instances, or find
and check relays on the network.

A relay owns the local radio and forwards the trainer protocol over a
WebSocket to exactly one client at a time. Remote commands then use
--relay (or the configured relay URL) instead of a local adapter.`,
}

var relayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local trainer link to remote clients",
	Long: `Own the local Bluetooth adapter (or bench port) and serve it over a
WebSocket relay.

One client at a time gets the trainer; others are rejected until it
disconnects. Unless --no-announce is set the relay is announced over
mDNS so clients can find it with "veelink relay discover".

Requests must carry the configured token as a bearer token. Serving
without a token configured allows anyone on the network to drive the
trainer.`,
	RunE: runRelayServe,
}

var relayDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find relays announced on the local network",
	Long: `Browse mDNS for veelink relays and list their endpoints.

Exit codes:
  0 - At least one relay found
  1 - No relays found
  2 - Discovery could not run`,
	Run: runRelayDiscover,
}

var relayPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round-trip time to a relay",
	Long: `Connect to a relay and measure protocol round-trip times.

This checks the whole client path: the WebSocket dial, token
authentication, and the relay's frame loop. It does not touch the
trainer.

Exit codes:
  0 - All pings answered
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Run: runRelayPing,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.AddCommand(relayServeCmd)
	relayCmd.AddCommand(relayDiscoverCmd)
	relayCmd.AddCommand(relayPingCmd)

	relayServeCmd.Flags().StringVar(&relayListen, "listen", "", "Bind address (default from config, :9178)")
	relayServeCmd.Flags().StringVar(&relayName, "name", "", "mDNS instance name (default veelink-<hostname>)")
	relayServeCmd.Flags().BoolVar(&relayNoAnnounce, "no-announce", false, "Do not announce the relay over mDNS")

	relayDiscoverCmd.Flags().IntVar(&relayDiscoverTimeout, "timeout", 5, "Browse duration in seconds")

	relayPingCmd.Flags().IntVar(&relayPingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	relayPingCmd.Flags().IntVar(&relayPingCount, "count", 4, "Number of pings to send")
}

func runRelayServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The relay owns a radio of its own; dialing another relay from here
	// would just chain sockets.
	t, connInfo := OpenLocalTransport()

	listen := relayListen
	if listen == "" {
		listen = cfg.Relay.Listen
	}

	srv := relay.NewServer(t, relay.ServerConfig{
		Listen:   listen,
		Token:    cfg.Relay.Token,
		Name:     relayName,
		Announce: cfg.Relay.Announce && !relayNoAnnounce,
	}, logger)

	fmt.Printf("Veelink - Relay Server\n")
	fmt.Printf("Transport: %s\n", connInfo)
	fmt.Printf("Listening: %s\n", listen)
	if cfg.Relay.Token == "" {
		fmt.Printf("Authentication: NONE (configure relay.token)\n")
	} else {
		fmt.Printf("Authentication: bearer token\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	return srv.Serve(ctx)
}

func runRelayDiscover(cmd *cobra.Command, args []string) {
	timeout := time.Duration(relayDiscoverTimeout) * time.Second

	fmt.Printf("Veelink - Relay Discovery\n")
	fmt.Printf("Browsing for %s...\n\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout+2*time.Second)
	defer cancel()

	eps, err := relay.Discover(ctx, timeout, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(2)
	}
	if len(eps) == 0 {
		fmt.Println("No relays found.")
		os.Exit(1)
	}

	fmt.Printf("%-28s %s\n", "INSTANCE", "URL")
	for _, ep := range eps {
		fmt.Printf("%-28s %s\n", ep.Instance, ep.URL())
	}
	fmt.Printf("\nRelays found: %d\n", len(eps))
}

func runRelayPing(cmd *cobra.Command, args []string) {
	if cfg.Relay.URL == "" {
		fmt.Fprintf(os.Stderr, "Connection error: no relay URL configured (use --relay)\n")
		os.Exit(2)
	}

	token, err := RelayToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c, err := relay.Dial(dialCtx, cfg.Relay.URL, token, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer c.Close()

	fmt.Printf("Veelink - Relay Ping\n")
	fmt.Printf("Relay: %s\n", cfg.Relay.URL)
	fmt.Printf("Timeout: %d seconds per ping\n", relayPingTimeout)
	fmt.Printf("Count: %d pings\n\n", relayPingCount)

	successCount := 0
	failCount := 0
	var minRTT, maxRTT, totalRTT time.Duration

	for i := 1; i <= relayPingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, relayPingCount)

		pingCtx, pingCancel := context.WithTimeout(context.Background(), time.Duration(relayPingTimeout)*time.Second)
		rtt, err := c.Ping(pingCtx)
		pingCancel()
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		} else {
			fmt.Printf("PONG rtt=%v\n", rtt.Round(time.Microsecond))
			successCount++
			totalRTT += rtt
			if minRTT == 0 || rtt < minRTT {
				minRTT = rtt
			}
			if rtt > maxRTT {
				maxRTT = rtt
			}
		}

		// Small delay between pings
		if i < relayPingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		relayPingCount, successCount, float64(failCount)/float64(relayPingCount)*100)
	if successCount > 0 {
		avg := totalRTT / time.Duration(successCount)
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			minRTT.Round(time.Microsecond), avg.Round(time.Microsecond), maxRTT.Round(time.Microsecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
}
