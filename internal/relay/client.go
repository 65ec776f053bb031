// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openvee/veelink/internal/link"
	"github.com/openvee/veelink/pkg/veeproto"
)

// ErrRelayClosed is returned for operations on a relay connection that
// has gone away.
var ErrRelayClosed = errors.New("relay: connection closed")

const (
	dialHandshakeTimeout = 10 * time.Second
	welcomeTimeout       = 5 * time.Second
	sendTimeout          = 5 * time.Second
)

// Client is the remote side of a relay link. It implements the link
// transport interface over a WebSocket session, so a connection machine
// drives the relay server's radio exactly as it would a local one.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	// gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu         sync.Mutex
	handlers   map[veeproto.Characteristic]link.NotificationFunc
	scanCh     chan link.Advertisement
	connectRes chan error
	subRes     chan subscribeResultBody
	discRes    chan error
	writes     map[uint64]chan error
	pongs      map[uint64]chan struct{}
	seq        uint64
	lost       chan error
	closed     bool

	readDone chan struct{}
}

var _ link.Transport = (*Client)(nil)

// Dial connects and authenticates to a relay server. rawURL must be a
// ws:// or wss:// endpoint; token goes into the Authorization header.
func Dial(ctx context.Context, rawURL, token string, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("relay: invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("relay: unsupported URL scheme %q (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialHandshakeTimeout}
	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay: connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("relay: connection failed: %w", err)
	}

	c := &Client{
		conn:     conn,
		log:      log.With("component", "relay-client"),
		handlers: make(map[veeproto.Characteristic]link.NotificationFunc),
		writes:   make(map[uint64]chan error),
		pongs:    make(map[uint64]chan struct{}),
		readDone: make(chan struct{}),
	}

	if err := c.awaitWelcome(); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) awaitWelcome() error {
	c.conn.SetReadDeadline(time.Now().Add(welcomeTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("relay: no welcome: %w", err)
	}
	kind, raw, err := decodeEnvelope(data)
	if err != nil {
		return err
	}
	if kind != kindWelcome {
		return fmt.Errorf("relay: expected welcome, got kind %d", kind)
	}
	var w welcomeBody
	if err := decodeBody(raw, &w); err != nil {
		return err
	}
	if w.Proto != protoVersion {
		return fmt.Errorf("relay: protocol version %d, want %d", w.Proto, protoVersion)
	}
	c.log.Debug("relay session established", "server", w.Server)
	return nil
}

// Close tears the session down. Pending operations fail with
// ErrRelayClosed.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.readDone
	return err
}

func (c *Client) send(kind uint8, body any) error {
	data, err := encodeEnvelope(kind, body)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("relay: send: %w", err)
	}
	return nil
}

// Scan asks the server to scan its radio. Advertisements stream until
// ctx ends; the channel then closes.
func (c *Client) Scan(ctx context.Context, namePrefix string) (<-chan link.Advertisement, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrRelayClosed
	}
	if c.scanCh != nil {
		c.mu.Unlock()
		return nil, errors.New("relay: scan already running")
	}
	ch := make(chan link.Advertisement, 16)
	c.scanCh = ch
	c.mu.Unlock()

	if err := c.send(kindScanStart, scanStartBody{Prefix: namePrefix}); err != nil {
		c.closeScan(ch)
		return nil, err
	}

	// The server's closing scanStop frame is what ends the stream; this
	// watcher only relays cancellation. The identity check keeps a late
	// watcher from stopping a newer scan.
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			active := c.scanCh == ch
			c.mu.Unlock()
			if active {
				c.send(kindScanStop, nil)
			}
		case <-c.readDone:
		}
	}()

	return ch, nil
}

// closeScan closes ch if it is still the registered scan stream.
func (c *Client) closeScan(ch chan link.Advertisement) {
	c.mu.Lock()
	if c.scanCh != ch {
		c.mu.Unlock()
		return
	}
	c.scanCh = nil
	c.mu.Unlock()
	close(ch)
}

// closeActiveScan closes whatever scan stream is registered.
func (c *Client) closeActiveScan() {
	c.mu.Lock()
	ch := c.scanCh
	c.scanCh = nil
	c.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Connect asks the server to connect to the advertised device.
func (c *Client) Connect(ctx context.Context, id link.DeviceID) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrRelayClosed
	}
	res := make(chan error, 1)
	c.connectRes = res
	// Armed up front so a loss right after the ack is not missed.
	lost := make(chan error, 1)
	c.lost = lost
	c.mu.Unlock()

	disarm := func() {
		c.mu.Lock()
		if c.lost == lost {
			c.lost = nil
		}
		c.mu.Unlock()
	}

	if err := c.send(kindConnect, connectBody{ID: string(id)}); err != nil {
		disarm()
		return err
	}

	select {
	case err := <-res:
		if err != nil {
			disarm()
		}
		return err
	case <-ctx.Done():
		disarm()
		return ctx.Err()
	case <-c.readDone:
		return ErrRelayClosed
	}
}

// DiscoverServices maps onto the relay's subscribe-all exchange: the
// server discovers the control service and subscribes every notification
// characteristic it finds, then reports the full characteristic set.
// Per-characteristic Subscribe calls after this are local registrations.
func (c *Client) DiscoverServices(ctx context.Context) ([]veeproto.Characteristic, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrRelayClosed
	}
	res := make(chan subscribeResultBody, 1)
	c.subRes = res
	c.mu.Unlock()

	if err := c.send(kindSubscribeAll, nil); err != nil {
		return nil, err
	}

	select {
	case body := <-res:
		if body.Err != "" {
			return nil, errors.New(body.Err)
		}
		chars := make([]veeproto.Characteristic, len(body.Chars))
		for i, raw := range body.Chars {
			chars[i] = veeproto.Characteristic(raw)
		}
		return chars, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.readDone:
		return nil, ErrRelayClosed
	}
}

// Subscribe registers the local callback for a characteristic. The
// server side already streams every notification after subscribe-all;
// frames without a registered callback are dropped here.
func (c *Client) Subscribe(_ context.Context, char veeproto.Characteristic, fn link.NotificationFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrRelayClosed
	}
	c.handlers[char] = fn
	return nil
}

// Unsubscribe drops the local callback.
func (c *Client) Unsubscribe(_ context.Context, char veeproto.Characteristic) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, char)
	return nil
}

// WriteCharacteristic forwards a control write and waits for the
// server's acknowledgment.
func (c *Client) WriteCharacteristic(ctx context.Context, char veeproto.Characteristic, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrRelayClosed
	}
	c.seq++
	seq := c.seq
	res := make(chan error, 1)
	c.writes[seq] = res
	c.mu.Unlock()

	err := c.send(kindWrite, writeBody{Seq: seq, Char: uint8(char), Data: data})
	if err != nil {
		c.dropWrite(seq)
		return err
	}

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		c.dropWrite(seq)
		return ctx.Err()
	case <-c.readDone:
		return ErrRelayClosed
	}
}

func (c *Client) dropWrite(seq uint64) {
	c.mu.Lock()
	delete(c.writes, seq)
	c.mu.Unlock()
}

// Disconnect releases the server's radio.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrRelayClosed
	}
	res := make(chan error, 1)
	c.discRes = res
	c.mu.Unlock()

	if err := c.send(kindDisconnect, nil); err != nil {
		return err
	}

	select {
	case err := <-res:
		c.mu.Lock()
		c.handlers = make(map[veeproto.Characteristic]link.NotificationFunc)
		c.mu.Unlock()
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.readDone:
		return ErrRelayClosed
	}
}

// LinkLost reports loss of the device link, whether the radio dropped it
// on the server or the relay session itself died.
func (c *Client) LinkLost() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

// Ping measures a round trip through the relay.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrRelayClosed
	}
	c.seq++
	nonce := c.seq
	res := make(chan struct{})
	c.pongs[nonce] = res
	c.mu.Unlock()

	start := time.Now()
	if err := c.send(kindPing, pingBody{Nonce: nonce}); err != nil {
		return 0, err
	}

	select {
	case <-res:
		return time.Since(start), nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pongs, nonce)
		c.mu.Unlock()
		return 0, ctx.Err()
	case <-c.readDone:
		return 0, ErrRelayClosed
	}
}

func (c *Client) readLoop() {
	defer c.finish()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		kind, raw, err := decodeEnvelope(data)
		if err != nil {
			c.log.Warn("relay frame dropped", "error", err)
			continue
		}
		c.dispatch(kind, raw)
	}
}

func (c *Client) dispatch(kind uint8, raw []byte) {
	switch kind {
	case kindScanResult:
		var body scanResultBody
		if err := decodeBody(raw, &body); err != nil {
			c.log.Warn("bad scan result", "error", err)
			return
		}
		c.mu.Lock()
		ch := c.scanCh
		c.mu.Unlock()
		if ch == nil {
			return
		}
		adv := link.Advertisement{ID: link.DeviceID(body.ID), Name: body.Name, RSSI: body.RSSI}
		select {
		case ch <- adv:
		default:
		}

	case kindScanStop:
		c.closeActiveScan()

	case kindConnectResult:
		var body resultBody
		decodeBody(raw, &body)
		c.mu.Lock()
		res := c.connectRes
		c.connectRes = nil
		c.mu.Unlock()
		if res != nil {
			res <- errFromString(body.Err)
		}

	case kindSubscribeResult:
		var body subscribeResultBody
		if err := decodeBody(raw, &body); err != nil {
			body.Err = err.Error()
		}
		c.mu.Lock()
		res := c.subRes
		c.subRes = nil
		c.mu.Unlock()
		if res != nil {
			res <- body
		}

	case kindNotify:
		var body notifyBody
		if err := decodeBody(raw, &body); err != nil {
			c.log.Warn("bad notification", "error", err)
			return
		}
		c.mu.Lock()
		fn := c.handlers[veeproto.Characteristic(body.Char)]
		c.mu.Unlock()
		if fn != nil {
			fn(body.Data)
		}

	case kindWriteResult:
		var body writeResultBody
		if err := decodeBody(raw, &body); err != nil {
			c.log.Warn("bad write result", "error", err)
			return
		}
		c.mu.Lock()
		res := c.writes[body.Seq]
		delete(c.writes, body.Seq)
		c.mu.Unlock()
		if res != nil {
			res <- errFromString(body.Err)
		}

	case kindDisconnectResult:
		var body resultBody
		decodeBody(raw, &body)
		c.mu.Lock()
		res := c.discRes
		c.discRes = nil
		c.mu.Unlock()
		if res != nil {
			res <- errFromString(body.Err)
		}

	case kindLinkLost:
		var body linkLostBody
		decodeBody(raw, &body)
		reason := body.Reason
		if reason == "" {
			reason = "link lost"
		}
		c.deliverLost(errors.New(reason))

	case kindPong:
		var body pingBody
		if err := decodeBody(raw, &body); err != nil {
			return
		}
		c.mu.Lock()
		res := c.pongs[body.Nonce]
		delete(c.pongs, body.Nonce)
		c.mu.Unlock()
		if res != nil {
			close(res)
		}

	case kindError:
		var body errorBody
		decodeBody(raw, &body)
		c.log.Warn("relay server error", "message", body.Message)

	default:
		c.log.Warn("unknown relay frame", "kind", kind)
	}
}

func (c *Client) deliverLost(err error) {
	c.mu.Lock()
	lost := c.lost
	c.lost = nil
	c.mu.Unlock()
	if lost != nil {
		lost <- err
	}
}

// finish fails everything outstanding after the socket dies.
func (c *Client) finish() {
	c.mu.Lock()
	c.closed = true
	connectRes := c.connectRes
	c.connectRes = nil
	subRes := c.subRes
	c.subRes = nil
	discRes := c.discRes
	c.discRes = nil
	writes := c.writes
	c.writes = make(map[uint64]chan error)
	lost := c.lost
	c.lost = nil
	c.mu.Unlock()

	if connectRes != nil {
		connectRes <- ErrRelayClosed
	}
	if subRes != nil {
		subRes <- subscribeResultBody{Err: ErrRelayClosed.Error()}
	}
	if discRes != nil {
		discRes <- ErrRelayClosed
	}
	for _, res := range writes {
		res <- ErrRelayClosed
	}
	if lost != nil {
		lost <- ErrRelayClosed
	}
	c.closeActiveScan()
	close(c.readDone)
}

func errFromString(s string) error {
	if s == "" {
		return nil
	}
	return errors.New(s)
}
