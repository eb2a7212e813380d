package tls

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dotside-studios/davi-nfc-session/buildinfo"
)

// BootstrapServer serves the CA certificate over plain HTTP so a phone can
// trust the agent before it connects over wss://.
type BootstrapServer struct {
	manager *Manager
	port    int
	logger  *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewBootstrapServer creates a CA download server on port. Port 0 picks a free port.
func NewBootstrapServer(manager *Manager, port int, logger *slog.Logger) *BootstrapServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BootstrapServer{
		manager: manager,
		port:    port,
		logger:  logger.With("component", "bootstrap"),
	}
}

// Handler returns the HTTP routes of the bootstrap server.
func (s *BootstrapServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ca.pem", s.handleCACert)
	mux.HandleFunc("/ca.crt", s.handleCACert)
	mux.HandleFunc("/", s.handleInstructions)
	return mux
}

// Start listens and serves in the background.
func (s *BootstrapServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("bootstrap listen: %w", err)
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	attrs := []any{"url", caURL(ln.Addr().(*net.TCPAddr).Port)}
	if fingerprint, err := s.manager.CAFingerprint(); err == nil {
		attrs = append(attrs, "ca_sha256", fingerprint)
	}
	s.logger.Info("CA bootstrap server running", attrs...)

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("bootstrap server stopped", "error", err)
		}
	}()
	return nil
}

// Port returns the bound port, or the configured one before Start.
func (s *BootstrapServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().(*net.TCPAddr).Port
	}
	return s.port
}

// URL returns the CA download URL on the preferred LAN address.
func (s *BootstrapServer) URL() string {
	return caURL(s.Port())
}

func caURL(port int) string {
	return fmt.Sprintf("http://%s:%d/ca.pem", PreferredHost(), port)
}

// Stop shuts the server down.
func (s *BootstrapServer) Stop() {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func (s *BootstrapServer) handleCACert(w http.ResponseWriter, r *http.Request) {
	caCert, err := s.manager.ReadCACert()
	if err != nil {
		http.Error(w, "CA certificate not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", buildinfo.DirName+"-ca.pem"))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(caCert)

	s.logger.Info("CA certificate downloaded", "remote", r.RemoteAddr)
}

type instructionsPage struct {
	AppName     string
	Fingerprint string
	Links       []string
}

var instructionsTemplate = template.Must(template.New("instructions").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.AppName}} - Install CA Certificate</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .card { background: white; border-radius: 12px; padding: 24px; margin-bottom: 16px; box-shadow: 0 2px 8px rgba(0,0,0,0.1); }
        .download-btn { display: inline-block; background: #007AFF; color: white; padding: 14px 28px; border-radius: 8px; text-decoration: none; font-weight: 600; }
        .fingerprint { font-family: monospace; font-size: 0.75em; background: #f0f0f0; padding: 12px; border-radius: 6px; word-break: break-all; }
        .steps li { margin-bottom: 12px; line-height: 1.5; }
    </style>
</head>
<body>
    <div class="card">
        <h1>Install CA Certificate</h1>
        <p>Install this certificate authority on your phone so the {{.AppName}} app can connect over a secure WebSocket.</p>
        <p style="text-align: center; margin: 24px 0;"><a href="/ca.pem" class="download-btn">Download CA Certificate</a></p>
        <p><strong>Verify the fingerprint</strong> matches the one in the {{.AppName}} logs before trusting it.</p>
        <div class="fingerprint">{{if .Fingerprint}}{{.Fingerprint}}{{else}}unavailable{{end}}</div>
    </div>
    <div class="card">
        <h2>Android</h2>
        <ol class="steps">
            <li>Tap the download button above</li>
            <li>Open <strong>Settings &rarr; Security &rarr; Encryption &amp; credentials</strong></li>
            <li>Tap <strong>Install a certificate &rarr; CA certificate</strong> and pick the downloaded file</li>
        </ol>
    </div>
    <div class="card">
        <h2>iOS</h2>
        <ol class="steps">
            <li>Tap the download button above and install the downloaded profile</li>
            <li>Enable it under <strong>General &rarr; About &rarr; Certificate Trust Settings</strong></li>
        </ol>
    </div>
    {{if .Links}}<div class="card">
        <h2>Download URLs</h2>
        <p style="font-family: monospace; font-size: 0.9em;">{{range .Links}}{{.}}<br>{{end}}</p>
    </div>{{end}}
</body>
</html>
`))

func (s *BootstrapServer) handleInstructions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	fingerprint, _ := s.manager.CAFingerprint()
	hosts, _ := GetAllHosts()

	page := instructionsPage{
		AppName:     buildinfo.DisplayName,
		Fingerprint: fingerprint,
		Links:       downloadLinks(hosts, s.Port()),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := instructionsTemplate.Execute(w, page); err != nil {
		s.logger.Warn("render instructions", "error", err)
	}
}

// downloadLinks lists the CA URL for each IP host.
func downloadLinks(hosts []string, port int) []string {
	var links []string
	for _, h := range hosts {
		if net.ParseIP(h) == nil {
			continue
		}
		links = append(links, fmt.Sprintf("http://%s:%d/ca.pem", h, port))
	}
	return links
}
