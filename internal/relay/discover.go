// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// Endpoint is one relay server found on the local network.
type Endpoint struct {
	Instance string
	Host     string
	Port     int
	Addr     net.IP
}

// URL returns the dialable link endpoint.
func (e Endpoint) URL() string {
	host := e.Host
	if e.Addr != nil {
		host = e.Addr.String()
	}
	return fmt.Sprintf("ws://%s/v1/link", net.JoinHostPort(host, fmt.Sprint(e.Port)))
}

// Discover browses mDNS for relay servers, collecting answers until the
// timeout passes or ctx ends.
func Discover(ctx context.Context, timeout time.Duration, log *slog.Logger) ([]Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("relay: mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	var (
		wg    sync.WaitGroup
		found []Endpoint
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			if entry == nil {
				continue
			}
			ep := Endpoint{
				Instance: entry.Instance,
				Host:     entry.HostName,
				Port:     entry.Port,
			}
			if len(entry.AddrIPv4) > 0 {
				ep.Addr = entry.AddrIPv4[0]
			} else if len(entry.AddrIPv6) > 0 {
				ep.Addr = entry.AddrIPv6[0]
			}
			log.Debug("relay discovered", "instance", ep.Instance, "url", ep.URL())
			found = append(found, ep)
		}
	}()

	if err := resolver.Browse(browseCtx, zeroconfService, zeroconfDomain, entries); err != nil {
		cancel()
		wg.Wait()
		return nil, fmt.Errorf("relay: mdns browse: %w", err)
	}
	<-browseCtx.Done()
	wg.Wait()
	return found, nil
}
