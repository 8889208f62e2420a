// Status page: spec.md §4.H's read-only view into the relay, served
// as JSON/HTML/text over HTTP plus a push channel over WebSocket. Optional
// bearer-token auth and optional TLS.
//
// Grounded on the teacher's rtmp_server.go status bookkeeping shape,
// control_auth.go's JWT pattern (here verifying a shared-secret bearer
// token instead of minting a coordinator-dial token), and rtmp_ssl.go's
// hand-rolled certificate hot-reload (kept near-verbatim: no pack
// source actually exercises go-tls-certificate-loader's API, so that
// dependency was dropped rather than wired on guesswork — see DESIGN.md).

package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// ConnectionSnapshot is one connection's status row, shaped after
// original_source/PushReceiver.cpp's getInfo: id, name, role, peer
// address, handshake state, bitrates (already ×8, bits/second), and
// the bound server's latest metadata key/value pairs.
type ConnectionSnapshot struct {
	ID             uint64            `json:"id"`
	StreamName     string            `json:"streamName"`
	Role           string            `json:"role"`
	PeerAddress    string            `json:"peerAddress"`
	Connected      bool              `json:"connected"`
	HandshakeState string            `json:"handshakeState"`
	VideoBitrate   uint64            `json:"videoBitrate"`
	AudioBitrate   uint64            `json:"audioBitrate"`
	Metadata       map[string]string `json:"metadata"`
}

type RelaySnapshot struct {
	Connections []ConnectionSnapshot `json:"connections"`
}

// ReportType selects the rendering of Render, mirroring
// original_source/Relay.cpp's getInfo(reportType) branches.
type ReportType int

const (
	ReportText ReportType = iota
	ReportHTML
	ReportJSON
)

// Render produces a full status report in one of the three formats
// Relay::getInfo supports, wrapping each connection's block the same
// way: a plain "Connections:" list for text, one <p> block per
// connection for HTML, and a JSON object for JSON.
func Render(snap RelaySnapshot, rt ReportType) string {
	switch rt {
	case ReportJSON:
		body, err := json.Marshal(snap)
		if err != nil {
			return "{}"
		}
		return string(body)
	case ReportHTML:
		var b strings.Builder
		b.WriteString("<html><title>Status</title><body>")
		for _, c := range snap.Connections {
			renderConnectionHTML(&b, c)
		}
		b.WriteString("</body></html>")
		return b.String()
	default:
		var b strings.Builder
		b.WriteString("Connections:\n")
		for _, c := range snap.Connections {
			renderConnectionText(&b, c)
		}
		return b.String()
	}
}

func renderConnectionText(b *strings.Builder, c ConnectionSnapshot) {
	fmt.Fprintf(b, "id: %d\n", c.ID)
	fmt.Fprintf(b, "name: %s\n", c.StreamName)
	fmt.Fprintf(b, "role: %s\n", c.Role)
	fmt.Fprintf(b, "address: %s\n", c.PeerAddress)
	fmt.Fprintf(b, "state: %s\n", c.HandshakeState)
	fmt.Fprintf(b, "video bitrate: %d\n", c.VideoBitrate)
	fmt.Fprintf(b, "audio bitrate: %d\n", c.AudioBitrate)
	b.WriteString("metadata: ")
	b.WriteString(renderMetadataText(c.Metadata))
	b.WriteString("\n\n")
}

func renderConnectionHTML(b *strings.Builder, c ConnectionSnapshot) {
	fmt.Fprintf(b, "<p>id: %d<br>name: %s<br>role: %s<br>address: %s<br>state: %s<br>video bitrate: %d<br>audio bitrate: %d<br>metadata: %s</p>",
		c.ID, c.StreamName, c.Role, c.PeerAddress, c.HandshakeState, c.VideoBitrate, c.AudioBitrate, renderMetadataText(c.Metadata))
}

func renderMetadataText(meta map[string]string) string {
	if len(meta) == 0 {
		return "empty"
	}
	var b strings.Builder
	first := true
	for k, v := range meta {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s: %s", k, v)
	}
	return b.String()
}

const statusPushInterval = 2 * time.Second

type StatusReporter struct {
	relay *Relay
	cfg   *StatusPageConfig

	httpServer *http.Server
	upgrader   websocket.Upgrader
	certLoader *SslCertificateLoader

	mu        sync.Mutex
	wsClients map[*websocket.Conn]struct{}
	elapsed   time.Duration
}

func NewStatusReporter(relay *Relay, cfg *StatusPageConfig) *StatusReporter {
	return &StatusReporter{
		relay:     relay,
		cfg:       cfg,
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		wsClients: make(map[*websocket.Conn]struct{}),
	}
}

func (s *StatusReporter) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.withAuth(s.handleJSON))
	mux.HandleFunc("/status.html", s.withAuth(s.handleHTML))
	mux.HandleFunc("/status.txt", s.withAuth(s.handleText))
	mux.HandleFunc("/status.ws", s.withAuth(s.handleWebsocket))

	s.httpServer = &http.Server{Addr: s.cfg.Listen, Handler: mux}

	var tlsConfig *tls.Config
	if s.cfg.TLS != nil {
		loader, err := NewSslCertificateLoader(s.cfg.TLS.Cert, s.cfg.TLS.Key)
		if err != nil {
			return newConfigError("cannot load status page TLS certificate", err)
		}
		s.certLoader = loader
		go loader.RunReloadThread()
		tlsConfig = &tls.Config{GetCertificate: loader.GetCertificateFunc()}
		s.httpServer.TLSConfig = tlsConfig
	}

	go func() {
		var err error
		if tlsConfig != nil {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logError(err)
		}
	}()

	return nil
}

func (s *StatusReporter) Stop() {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
	if s.certLoader != nil {
		s.certLoader.Stop()
	}
}

// Update pushes a fresh snapshot to every connected WebSocket client
// every statusPushInterval.
func (s *StatusReporter) Update(dt time.Duration) {
	s.elapsed += dt
	if s.elapsed < statusPushInterval {
		return
	}
	s.elapsed = 0

	body := []byte(Render(s.relay.Snapshot(), ReportJSON))

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			conn.Close()
			delete(s.wsClients, conn)
		}
	}
}

func (s *StatusReporter) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Secret == "" {
			handler(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" || !verifyStatusToken(token, s.cfg.Secret) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// MakeStatusAuthToken mints a bearer token operators can hand to a
// status-page client; verifyStatusToken checks it on every request.
func MakeStatusAuthToken(secret string, validFor time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"scope": "status:read",
		"exp":   time.Now().Add(validFor).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(secret))
}

func verifyStatusToken(tokenString, secret string) bool {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	scope, _ := claims["scope"].(string)
	return scope == "status:read"
}

func (s *StatusReporter) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, Render(s.relay.Snapshot(), ReportJSON))
}

func (s *StatusReporter) handleHTML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, Render(s.relay.Snapshot(), ReportHTML))
}

func (s *StatusReporter) handleText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, Render(s.relay.Snapshot(), ReportText))
}

func (s *StatusReporter) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.wsClients[conn] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.wsClients, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// SslCertificateLoader hot-reloads a cert/key pair from disk whenever
// either file's mtime advances, so rotating certificates in place
// doesn't require restarting the status page listener.
type SslCertificateLoader struct {
	certPath string
	keyPath  string

	mu   sync.RWMutex
	cert *tls.Certificate

	certModTime time.Time
	keyModTime  time.Time

	stopCh chan struct{}
}

func NewSslCertificateLoader(certPath, keyPath string) (*SslCertificateLoader, error) {
	l := &SslCertificateLoader{certPath: certPath, keyPath: keyPath, stopCh: make(chan struct{})}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SslCertificateLoader) reload() error {
	cert, err := tls.LoadX509KeyPair(l.certPath, l.keyPath)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.cert = &cert
	l.mu.Unlock()

	if st, err := os.Stat(l.certPath); err == nil {
		l.certModTime = st.ModTime()
	}
	if st, err := os.Stat(l.keyPath); err == nil {
		l.keyModTime = st.ModTime()
	}
	return nil
}

func (l *SslCertificateLoader) GetCertificateFunc() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		return l.cert, nil
	}
}

func (l *SslCertificateLoader) RunReloadThread() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			certStat, err1 := os.Stat(l.certPath)
			keyStat, err2 := os.Stat(l.keyPath)
			if err1 != nil || err2 != nil {
				continue
			}
			if certStat.ModTime().After(l.certModTime) || keyStat.ModTime().After(l.keyModTime) {
				if err := l.reload(); err != nil {
					logError(err)
				} else {
					logInfo("status page TLS certificate reloaded")
				}
			}
		}
	}
}

func (l *SslCertificateLoader) Stop() {
	close(l.stopCh)
}
