// Command liveeditd serves a rendered HTML page with a live-editing bridge
// attached: the page at /, an editor websocket at /ws, and debug inspection
// endpoints when enabled.
//
// Usage:
//
//	liveeditd -config liveedit.yaml
//	liveeditd -page dist/index.html -endpoint https://studio.example.com
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/liveedit"
	"github.com/hazyhaar/liveedit/channel"
	"github.com/hazyhaar/liveedit/channel/wstransport"
	"github.com/hazyhaar/liveedit/journal"
	"github.com/hazyhaar/liveedit/kit"
)

type daemonConfig struct {
	liveedit.Config `yaml:",inline"`

	Listen   string `yaml:"listen"`    // default :8787
	PageFile string `yaml:"page_file"` // rendered HTML to serve and patch
}

func main() {
	configPath := flag.String("config", "", "path to liveedit.yaml config file")
	pageFile := flag.String("page", "", "rendered HTML file to serve")
	endpoint := flag.String("endpoint", "", "editor endpoint (overrides config)")
	listen := flag.String("listen", "", "listen address (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *pageFile, *endpoint, *listen); err != nil {
		logger.Error("liveeditd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, pageFile, endpoint, listen string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if pageFile != "" {
		cfg.PageFile = pageFile
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8787"
	}
	if cfg.PageFile == "" {
		return fmt.Errorf("liveeditd: no page file (use -page or page_file)")
	}

	src, err := os.ReadFile(cfg.PageFile)
	if err != nil {
		return fmt.Errorf("liveeditd: read page: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(string(src)))
	if err != nil {
		return fmt.Errorf("liveeditd: parse page: %w", err)
	}

	var jrnl *journal.Journal
	if cfg.JournalPath != "" {
		jrnl, err = journal.Open(cfg.JournalPath, logger)
		if err != nil {
			return fmt.Errorf("liveeditd: %w", err)
		}
		defer jrnl.Close()
	}

	opts := []liveedit.Option{
		liveedit.WithEmbeddedProbe(func() bool { return true }),
	}
	if jrnl != nil {
		opts = append(opts, liveedit.WithJournal(jrnl))
	}
	bridge, err := liveedit.New(&cfg.Config, doc, logger, opts...)
	if err != nil {
		return err
	}
	defer bridge.Destroy()

	srv := &server{
		cfg:    cfg,
		logger: logger,
		bridge: bridge,
		doc:    doc,
		jrnl:   jrnl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return channel.OriginList(cfg.AllowedOrigins).Allows(r.Header.Get("Origin"))
			},
		},
	}

	httpSrv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("liveeditd: listening", "addr", cfg.Listen, "page", cfg.PageFile)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

func loadConfig(path string) (*daemonConfig, error) {
	cfg := &daemonConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("liveeditd: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("liveeditd: parse config: %w", err)
	}
	return cfg, nil
}

type server struct {
	cfg      *daemonConfig
	logger   *slog.Logger
	bridge   *liveedit.Bridge
	doc      *html.Node
	jrnl     *journal.Journal
	upgrader websocket.Upgrader

	renderMu sync.Mutex
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	// Carry chi's request id under the shared kit keys so handler logs and
	// tool-call logs correlate.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, rq *http.Request) {
			ctx := kit.WithTransport(rq.Context(), "http")
			ctx = kit.WithRequestID(ctx, middleware.GetReqID(ctx))
			next.ServeHTTP(w, rq.WithContext(ctx))
		})
	})
	r.Get("/", s.handlePage)
	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWS)
	if s.cfg.Debug {
		r.Get("/debug/snapshot", s.handleSnapshot)
		r.Get("/debug/journal", s.handleJournal)
	}
	return r
}

// handlePage renders the live tree. Renders racing a patch window may see a
// partially applied value; the next reload settles.
func (s *server) handlePage(w http.ResponseWriter, r *http.Request) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := html.Render(w, s.doc); err != nil {
		s.logger.Warn("liveeditd: render failed", "error", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// handleWS attaches one editor connection to the bridge. The bridge holds a
// single channel; a second editor is refused until the first drops.
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("liveeditd: upgrade failed", "origin", origin, "error", err)
		return
	}

	t := wstransport.New(conn, origin, s.logger)
	if err := s.bridge.Connect(t); err != nil {
		s.logger.Warn("liveeditd: editor refused", "origin", origin, "error", err)
		t.Close()
		return
	}
	s.logger.Info("liveeditd: editor attached",
		"origin", origin, "request_id", kit.GetRequestID(r.Context()))

	go func() {
		<-t.Done()
		s.bridge.Disconnect()
		s.logger.Info("liveeditd: editor detached", "origin", origin)
	}()
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.bridge.DebugSnapshot())
}

func (s *server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.jrnl == nil {
		http.Error(w, "no journal configured", http.StatusNotFound)
		return
	}
	events, err := s.jrnl.Recent(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		// Headers are already out; nothing useful left to do.
		return
	}
}
