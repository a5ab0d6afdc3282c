// Package web serves the ledger over HTTP: derived series as JSON, progress as SSE
// and pipeline metrics for prometheus.
package web

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/tally/internal/balances"
	"github.com/vadiminshakov/tally/internal/domain"
	"github.com/vadiminshakov/tally/internal/networth"
	"github.com/vadiminshakov/tally/internal/progress"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const heartbeatInterval = 20 * time.Second

type ledgerReader interface {
	AuditLogs(from, until int64) []domain.AuditLog
	BalancesAt(day int64) map[string]decimal.Decimal
	Networth(from, until int64) []domain.NetworthRecord
	FileImports() []domain.FileImport
}

// Server exposes the read side of one account.
type Server struct {
	Addr     string
	Account  string
	Store    ledgerReader
	Hub      *progress.Hub
	Gatherer prometheus.Gatherer

	logger *zap.Logger
	now    func() time.Time
}

// NewServer creates a new web server instance.
func NewServer(addr, account string, store ledgerReader, hub *progress.Hub, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:     addr,
		Account:  account,
		Store:    store,
		Hub:      hub,
		Gatherer: gatherer,
		logger:   logger.Named("web"),
		now:      time.Now,
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/progress/stream", s.handleProgressStream)
	mux.HandleFunc("/networth", s.handleNetworth)
	mux.HandleFunc("/balances", s.handleBalances)
	mux.HandleFunc("/imports", s.handleImports)
	if s.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("http (acme) server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http (acme) server", zap.Error(err))
		}
	}()

	s.logger.Info("listening with tls", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleProgressStream relays progress events of the account. An empty channel
// subscribes to every channel.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "progress hub not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.Hub.Subscribe(s.Account, r.URL.Query().Get("channel"))
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	var id uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				s.logger.Warn("encode progress event", zap.Error(err))
				continue
			}
			id++
			fmt.Fprintf(w, "id: %d\n", id)
			fmt.Fprintf(w, "event: %s\n", e.Channel)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

type networthResponse struct {
	Records       []domain.NetworthRecord `json:"records"`
	Bucket        string                  `json:"bucket,omitempty"`
	Candles       []domain.OHLC           `json:"candles,omitempty"`
	MovingAverage []decimal.NullDecimal   `json:"movingAverage,omitempty"`
	Overlay       string                  `json:"overlay,omitempty"`
	Volatility    []decimal.NullDecimal   `json:"volatility,omitempty"`
}

// handleNetworth serves GET /networth?from=&until=&bucket=1w&ma=7&overlay=ema&atr=14.
// atr is computed over the bucket candles and requires bucket.
func (s *Server) handleNetworth(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, until, err := s.parseRange(q.Get("from"), q.Get("until"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := networthResponse{Records: s.Store.Networth(from, until)}
	if b := q.Get("bucket"); b != "" {
		candles, err := networth.Resample(resp.Records, networth.Bucket(b))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp.Bucket = b
		resp.Candles = candles
	}
	if ma := q.Get("ma"); ma != "" {
		period, err := strconv.Atoi(ma)
		if err != nil {
			http.Error(w, "invalid ma period", http.StatusBadRequest)
			return
		}
		kind := q.Get("overlay")
		resp.MovingAverage, err = networth.Overlay(resp.Records, kind, period)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp.Overlay = kind
	}
	if v := q.Get("atr"); v != "" {
		if resp.Bucket == "" {
			http.Error(w, "atr requires bucket", http.StatusBadRequest)
			return
		}
		period, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid atr period", http.StatusBadRequest)
			return
		}
		resp.Volatility, err = networth.Volatility(resp.Candles, period)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	s.writeJSON(w, r, resp)
}

type balancesResponse struct {
	Day      string                                `json:"day"`
	Assets   map[string]decimal.Decimal            `json:"assets"`
	ByWallet map[string]map[string]decimal.Decimal `json:"byWallet,omitempty"`
}

// handleBalances serves GET /balances?day=YYYY-MM-DD&by=wallet.
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day := domain.Today(s.now())
	if v := q.Get("day"); v != "" {
		d, err := domain.ParseDay(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		day = d
	}

	resp := balancesResponse{Day: domain.FormatDay(day), Assets: s.Store.BalancesAt(day)}
	if q.Get("by") == "wallet" {
		end := day + domain.DayMs - 1
		resp.ByWallet = balances.ByWallet(s.Store.AuditLogs(0, end), end)
	}
	s.writeJSON(w, r, resp)
}

func (s *Server) handleImports(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, s.Store.FileImports())
}

func (s *Server) parseRange(fromStr, untilStr string) (int64, int64, error) {
	from, until := int64(0), domain.Today(s.now())
	if fromStr != "" {
		d, err := domain.ParseDay(fromStr)
		if err != nil {
			return 0, 0, err
		}
		from = d
	}
	if untilStr != "" {
		d, err := domain.ParseDay(untilStr)
		if err != nil {
			return 0, 0, err
		}
		until = d
	}
	if from > until {
		return 0, 0, fmt.Errorf("from is after until")
	}
	return from, until, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		_, _ = w.Write(payload)
		return
	}

	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Vary", "Accept-Encoding")

	gz := gzip.NewWriter(w)
	defer gz.Close()

	gzw := &gzipResponseWriter{ResponseWriter: w, writer: gz}
	_, _ = gzw.Write(payload)
}

type gzipResponseWriter struct {
	http.ResponseWriter
	writer *gzip.Writer
}

func (w *gzipResponseWriter) WriteHeader(statusCode int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.writer.Write(b)
}
