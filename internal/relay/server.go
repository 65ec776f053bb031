// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package relay

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/openvee/veelink/internal/link"
	"github.com/openvee/veelink/pkg/veeproto"
)

const (
	zeroconfService = "_veelink._tcp"
	zeroconfDomain  = "local."

	serverConnectTimeout = 30 * time.Second
	serverOpTimeout      = 30 * time.Second
	releaseTimeout       = 5 * time.Second

	sessionSendBuffer = 256
)

// ServerConfig carries the relay server settings.
type ServerConfig struct {
	// Listen is the host:port to bind.
	Listen string
	// Token, when set, is required as a bearer token on every endpoint
	// except the health check.
	Token string
	// Name is the mDNS instance name. Defaults to veelink-<hostname>.
	Name string
	// Announce registers the service over mDNS while serving.
	Announce bool
}

// Server exposes a local transport to one remote veelink client. The
// radio owner side of a relay pair.
type Server struct {
	transport link.Transport
	cfg       ServerConfig
	log       *slog.Logger

	upgrader websocket.Upgrader

	mu   sync.Mutex
	sess *session

	started       time.Time
	framesRelayed atomic.Uint64
	writesRelayed atomic.Uint64
	rejected      atomic.Uint64
}

// Stats is the payload of GET /v1/stats.
type Stats struct {
	ClientConnected bool   `json:"client_connected"`
	FramesRelayed   uint64 `json:"frames_relayed"`
	WritesRelayed   uint64 `json:"writes_relayed"`
	ClientsRejected uint64 `json:"clients_rejected"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

// NewServer wraps a transport for remote use.
func NewServer(t link.Transport, cfg ServerConfig, log *slog.Logger) *Server {
	if cfg.Name == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "trainer"
		}
		cfg.Name = "veelink-" + host
	}
	return &Server{
		transport: t,
		cfg:       cfg,
		log:       log.With("component", "relay-server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		started: time.Now(),
	}
}

// Router builds the HTTP surface: an open health check plus the
// authenticated stats and link endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogging(s.log))
	r.Get("/healthz", s.handleHealthz)
	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.cfg.Token))
		r.Get("/v1/stats", s.handleStats)
		r.Get("/v1/link", s.handleLink)
	})
	return r
}

// Serve runs the relay until ctx is canceled, announcing over mDNS when
// configured.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("relay: listen: %w", err)
	}
	if s.cfg.Token == "" {
		s.log.Warn("relay serving without authentication")
	}
	if s.cfg.Announce {
		if addr, ok := ln.Addr().(*net.TCPAddr); ok {
			go s.announce(ctx, addr.Port)
		}
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)

		// Shutdown leaves hijacked connections alone; drop the active
		// session ourselves.
		s.mu.Lock()
		sess := s.sess
		s.mu.Unlock()
		if sess != nil {
			sess.conn.Close()
		}
	}()

	s.log.Info("relay listening", "addr", ln.Addr().String(), "announce", s.cfg.Announce)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) announce(ctx context.Context, port int) {
	srv, err := zeroconf.Register(s.cfg.Name, zeroconfService, zeroconfDomain, port, []string{"v=1"}, nil)
	if err != nil {
		s.log.Warn("mdns announce failed", "error", err)
		return
	}
	s.log.Debug("mdns announce up", "instance", s.cfg.Name, "port", port)
	<-ctx.Done()
	srv.Shutdown()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	connected := s.sess != nil
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, Stats{
		ClientConnected: connected,
		FramesRelayed:   s.framesRelayed.Load(),
		WritesRelayed:   s.writesRelayed.Load(),
		ClientsRejected: s.rejected.Load(),
		UptimeSeconds:   int64(time.Since(s.started).Seconds()),
	})
}

// handleLink upgrades to WebSocket and hands the transport to the
// client. Exactly one client owns the link at a time; latecomers get
// 409 until the owner leaves.
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.sess != nil {
		s.mu.Unlock()
		s.rejected.Add(1)
		writeJSON(w, http.StatusConflict, map[string]string{"error": "link already owned by another client"})
		return
	}
	sess := &session{srv: s}
	s.sess = sess
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.clearSession(sess)
		s.log.Warn("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess.conn = conn
	sess.ctx = ctx
	sess.cancel = cancel
	sess.sendCh = make(chan []byte, sessionSendBuffer)
	sess.log = s.log.With("remote", r.RemoteAddr)

	sess.log.Info("relay client attached")
	go sess.writeLoop()
	sess.send(kindWelcome, welcomeBody{Proto: protoVersion, Server: s.cfg.Name})

	sess.readLoop()

	cancel()
	if err := sess.release(); err != nil {
		sess.log.Debug("radio release", "error", err)
	}
	conn.Close()
	s.clearSession(sess)
	sess.log.Info("relay client detached")
}

func (s *Server) clearSession(sess *session) {
	s.mu.Lock()
	if s.sess == sess {
		s.sess = nil
	}
	s.mu.Unlock()
}

// session is one attached relay client.
type session struct {
	srv  *Server
	conn *websocket.Conn
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte

	mu         sync.Mutex
	scanCancel context.CancelFunc
	subscribed []veeproto.Characteristic
	connected  bool
}

// send encodes and queues one frame. A full queue means the client has
// stalled for longer than the write deadline covers; the session dies
// rather than block telemetry fan-out.
func (sess *session) send(kind uint8, body any) {
	data, err := encodeEnvelope(kind, body)
	if err != nil {
		sess.log.Error("envelope encode failed", "kind", kind, "error", err)
		return
	}
	select {
	case sess.sendCh <- data:
	case <-sess.ctx.Done():
	default:
		sess.log.Warn("relay client too slow, dropping session")
		sess.cancel()
	}
}

func (sess *session) writeLoop() {
	for {
		select {
		case data := <-sess.sendCh:
			sess.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := sess.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				sess.cancel()
				sess.conn.Close()
				return
			}
		case <-sess.ctx.Done():
			return
		}
	}
}

func (sess *session) readLoop() {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		kind, raw, err := decodeEnvelope(data)
		if err != nil {
			sess.log.Warn("bad frame from client", "error", err)
			continue
		}
		sess.handle(kind, raw)
	}
}

func (sess *session) handle(kind uint8, raw []byte) {
	switch kind {
	case kindScanStart:
		var body scanStartBody
		if err := decodeBody(raw, &body); err != nil && len(raw) != 0 {
			sess.send(kindError, errorBody{Message: "bad scan request"})
			return
		}
		sess.startScan(body.Prefix)

	case kindScanStop:
		sess.stopScan()

	case kindConnect:
		var body connectBody
		if err := decodeBody(raw, &body); err != nil {
			sess.send(kindConnectResult, resultBody{Err: "bad connect request"})
			return
		}
		go sess.doConnect(body.ID)

	case kindSubscribeAll:
		go sess.doSubscribeAll()

	case kindWrite:
		var body writeBody
		if err := decodeBody(raw, &body); err != nil {
			sess.send(kindError, errorBody{Message: "bad write request"})
			return
		}
		go sess.doWrite(body)

	case kindDisconnect:
		go sess.doDisconnect()

	case kindPing:
		var body pingBody
		decodeBody(raw, &body)
		sess.send(kindPong, body)

	default:
		sess.send(kindError, errorBody{Message: fmt.Sprintf("unknown frame kind %d", kind)})
	}
}

func (sess *session) startScan(prefix string) {
	sess.mu.Lock()
	if sess.scanCancel != nil {
		sess.mu.Unlock()
		sess.send(kindError, errorBody{Message: "scan already running"})
		return
	}
	scanCtx, cancel := context.WithCancel(sess.ctx)
	sess.scanCancel = cancel
	sess.mu.Unlock()

	go func() {
		defer sess.stopScan()
		advs, err := sess.srv.transport.Scan(scanCtx, prefix)
		if err != nil {
			sess.send(kindScanStop, scanStopBody{Err: err.Error()})
			return
		}
		for adv := range advs {
			sess.send(kindScanResult, scanResultBody{ID: string(adv.ID), Name: adv.Name, RSSI: adv.RSSI})
		}
		sess.send(kindScanStop, scanStopBody{})
	}()
}

func (sess *session) stopScan() {
	sess.mu.Lock()
	cancel := sess.scanCancel
	sess.scanCancel = nil
	sess.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (sess *session) doConnect(id string) {
	ctx, cancel := context.WithTimeout(sess.ctx, serverConnectTimeout)
	defer cancel()
	if err := sess.srv.transport.Connect(ctx, link.DeviceID(id)); err != nil {
		sess.send(kindConnectResult, resultBody{Err: err.Error()})
		return
	}
	sess.mu.Lock()
	sess.connected = true
	sess.mu.Unlock()
	go sess.watchLost()
	sess.send(kindConnectResult, resultBody{})
}

// watchLost forwards a radio-side link drop to the client. At most one
// per connection, matching the transport contract.
func (sess *session) watchLost() {
	lost := sess.srv.transport.LinkLost()
	if lost == nil {
		return
	}
	select {
	case err, ok := <-lost:
		if !ok {
			return
		}
		sess.mu.Lock()
		sess.connected = false
		sess.subscribed = nil
		sess.mu.Unlock()
		var reason string
		if err != nil {
			reason = err.Error()
		}
		sess.send(kindLinkLost, linkLostBody{Reason: reason})
	case <-sess.ctx.Done():
	}
}

// doSubscribeAll discovers the control service and subscribes every
// notification characteristic present, streaming frames back as NOTIFY.
// The reply carries the full discovered set so the client can judge
// protocol compatibility itself.
func (sess *session) doSubscribeAll() {
	ctx, cancel := context.WithTimeout(sess.ctx, serverOpTimeout)
	defer cancel()

	chars, err := sess.srv.transport.DiscoverServices(ctx)
	if err != nil {
		sess.send(kindSubscribeResult, subscribeResultBody{Err: err.Error()})
		return
	}
	present := make(map[veeproto.Characteristic]bool, len(chars))
	for _, c := range chars {
		present[c] = true
	}

	var subbed []veeproto.Characteristic
	for _, char := range veeproto.NotificationCharacteristics() {
		if !present[char] {
			continue
		}
		char := char
		err := sess.srv.transport.Subscribe(ctx, char, func(data []byte) {
			sess.srv.framesRelayed.Add(1)
			sess.send(kindNotify, notifyBody{
				Char:   uint8(char),
				Data:   data,
				Millis: time.Now().UnixMilli(),
			})
		})
		if err != nil {
			sess.mu.Lock()
			sess.subscribed = subbed
			sess.mu.Unlock()
			sess.send(kindSubscribeResult, subscribeResultBody{Err: err.Error()})
			return
		}
		subbed = append(subbed, char)
	}
	sess.mu.Lock()
	sess.subscribed = subbed
	sess.mu.Unlock()

	raws := make([]uint8, len(chars))
	for i, c := range chars {
		raws[i] = uint8(c)
	}
	sess.send(kindSubscribeResult, subscribeResultBody{Chars: raws})
}

func (sess *session) doWrite(body writeBody) {
	ctx, cancel := context.WithTimeout(sess.ctx, serverOpTimeout)
	defer cancel()
	err := sess.srv.transport.WriteCharacteristic(ctx, veeproto.Characteristic(body.Char), body.Data)
	if err != nil {
		sess.send(kindWriteResult, writeResultBody{Seq: body.Seq, Err: err.Error()})
		return
	}
	sess.srv.writesRelayed.Add(1)
	sess.send(kindWriteResult, writeResultBody{Seq: body.Seq})
}

func (sess *session) doDisconnect() {
	err := sess.release()
	if err != nil {
		sess.send(kindDisconnectResult, resultBody{Err: err.Error()})
		return
	}
	sess.send(kindDisconnectResult, resultBody{})
}

// release returns the radio to a quiet state: scan canceled,
// subscriptions dropped, device disconnected. Runs on client request and
// again unconditionally when the session ends.
func (sess *session) release() error {
	sess.mu.Lock()
	cancel := sess.scanCancel
	sess.scanCancel = nil
	subbed := sess.subscribed
	sess.subscribed = nil
	connected := sess.connected
	sess.connected = false
	sess.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if len(subbed) == 0 && !connected {
		return nil
	}

	ctx, cancelRelease := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancelRelease()
	for _, char := range subbed {
		if err := sess.srv.transport.Unsubscribe(ctx, char); err != nil {
			sess.log.Debug("unsubscribe during release", "char", char, "error", err)
		}
	}
	if !connected {
		return nil
	}
	return sess.srv.transport.Disconnect(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// bearerAuth guards a route group with a shared token. An empty token
// leaves the group open.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack keeps the WebSocket upgrade working through the logging
// wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("relay: response writer cannot hijack")
	}
	return h.Hijack()
}

func requestLogging(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration", time.Since(start),
			)
		})
	}
}
