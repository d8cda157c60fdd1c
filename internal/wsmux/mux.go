// Package wsmux implements the appliance's single-port TLS listener: every
// connection is peeked and classified as either a plain HTTP request for a
// static UI asset or a WebSocket upgrade, without the two ever needing
// separate ports or an external reverse proxy.
//
// The WebSocket handshake and frame codec are implemented directly against
// the *tls.Conn rather than bridged through a net/http upgrader, since
// classification happens on the raw byte stream before net/http ever sees
// the request.
package wsmux

import (
	"bufio"
	"crypto/tls"
	"io"
	"math"
	"net"
	"net/http"

	"github.com/pkg/errors"

	"github.com/openkvm-go/kvmd/internal/hub"
	"github.com/openkvm-go/kvmd/internal/logging"
	"github.com/openkvm-go/kvmd/internal/tarfs"
)

var log = logging.DefaultLogger.WithTag("wsmux")

// peekBytes bounds how much of the first request the multiplexer buffers
// before giving up on classification.
const peekBytes = 8 * 1024

// Config configures a Mux.
type Config struct {
	CertFile string
	KeyFile  string
	Assets   *tarfs.FS
	Hub      *hub.Hub

	// OnText is called with the payload of every inbound text message
	// (the JSON input-event stream) from any client.
	OnText func(client *Client, payload []byte)
}

// Mux accepts TCP connections, TLS-terminates them, and routes each to
// either the static-asset responder or a WebSocket client session.
type Mux struct {
	cfg       Config
	tlsConfig *tls.Config
}

// New loads the TLS certificate pair and prepares a Mux. It does not start
// listening.
func New(cfg Config) (*Mux, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "load TLS certificate pair")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{tls.TLS_CHACHA20_POLY1305_SHA256},
	}

	return &Mux{cfg: cfg, tlsConfig: tlsConfig}, nil
}

// ListenAndServe accepts connections on addr until the listener is closed
// or accept fails fatally. Each connection is handled in its own
// goroutine.
func (m *Mux) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	log.Info("listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
		go m.handle(conn)
	}
}

func (m *Mux) handle(conn net.Conn) {
	tlsConn := tls.Server(conn, m.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		log.Warn("TLS handshake with %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	defer tlsConn.Close()

	// The first request must fit in peekBytes; the cap is lifted once it has
	// been parsed so the WebSocket frame loop can keep reading through br.
	lr := &io.LimitedReader{R: tlsConn, N: peekBytes}
	br := bufio.NewReaderSize(lr, peekBytes)
	req, err := http.ReadRequest(br)
	if err != nil {
		log.Warn("malformed request from %s: %v", tlsConn.RemoteAddr(), err)
		return
	}
	lr.N = math.MaxInt64

	if isUpgradeRequest(req) {
		m.serveWebSocket(tlsConn, br, req)
		return
	}
	m.serveStatic(tlsConn, req)
}

func (m *Mux) serveStatic(conn *tls.Conn, req *http.Request) {
	bw := bufio.NewWriter(conn)
	defer bw.Flush()

	entry, ok := m.cfg.Assets.Open(req.URL.Path)
	if !ok {
		writeHTTPResponse(bw, 404, "text/plain; charset=utf-8", []byte("not found"))
		return
	}
	writeHTTPResponse(bw, 200, tarfs.ContentType(entry.Name), entry.Data)
}

func (m *Mux) serveWebSocket(conn *tls.Conn, br *bufio.Reader, req *http.Request) {
	bw := bufio.NewWriter(conn)
	if err := writeHandshakeResponse(bw, req); err != nil {
		log.Warn("handshake with %s failed: %v", conn.RemoteAddr(), err)
		return
	}

	client := newClient(conn)
	if m.cfg.Hub != nil {
		m.cfg.Hub.Add(client)
		defer m.cfg.Hub.Remove(client)
	}

	log.Info("client %s connected", client)
	err := client.readLoop(br, func(payload []byte) {
		if m.cfg.OnText != nil {
			m.cfg.OnText(client, payload)
		}
	})
	log.Info("client %s disconnected: %v", client, err)
}
