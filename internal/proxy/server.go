// Package proxy implements the gateway: a reverse proxy that serves every
// third-party origin under a subdomain of the proxy domain and injects the
// control script into HTML documents.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/standardbeagle/tabgate/internal/codec"
	"github.com/standardbeagle/tabgate/internal/config"
	"github.com/standardbeagle/tabgate/internal/logging"
	"github.com/standardbeagle/tabgate/internal/proxy/scripts"
)

// ProxyServer is the gateway HTTP server.
type ProxyServer struct {
	ListenAddr string
	AdminAddr  string

	cfg     ProxyConfig
	codec   codec.Codec
	cors    corsPolicy
	proxy   *httputil.ReverseProxy
	limiter *clientLimiter
	metrics *Metrics
	traffic *TrafficLog
	log     *zap.Logger

	httpServer  *http.Server
	adminServer *http.Server
	running     atomic.Bool
	startTime   time.Time
	requestSeq  atomic.Int64
	mu          sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
}

// ProxyConfig holds configuration for creating a gateway.
type ProxyConfig struct {
	ListenAddr      string
	AdminAddr       string
	Domain          string
	UpstreamScheme  string
	UpstreamTimeout time.Duration
	UserAgent       string
	DebugPath       string
	ScriptSubdomain string
	ScriptMaxAge    time.Duration
	Inject          bool
	TunnelOrigins   []string
	AllowedOrigin   string
	AllowedMethods  string
	AllowedHeaders  string
	RateLimit       float64
	RateBurst       int
	// TrafficSize bounds the recent request log served at /requests.
	TrafficSize int

	// Transport overrides the upstream round tripper.
	Transport http.RoundTripper
	Logger    *zap.Logger
	Metrics   *Metrics
}

// ConfigFrom converts the gateway section of the file configuration.
func ConfigFrom(g config.GatewayConfig) ProxyConfig {
	return ProxyConfig{
		ListenAddr:      g.Listen,
		AdminAddr:       g.AdminListen,
		Domain:          g.ProxyDomain,
		UpstreamScheme:  g.UpstreamScheme,
		UpstreamTimeout: g.UpstreamTimeout,
		UserAgent:       g.UserAgent,
		DebugPath:       g.DebugPath,
		ScriptSubdomain: g.ScriptSubdomain,
		ScriptMaxAge:    g.ScriptMaxAge,
		Inject:          g.Inject,
		TunnelOrigins:   g.TunnelOrigins,
		AllowedOrigin:   g.AllowedOrigin,
		AllowedMethods:  g.AllowedMethods,
		AllowedHeaders:  g.AllowedHeaders,
		RateLimit:       g.RateLimit,
		RateBurst:       g.RateBurst,
	}
}

// NewProxyServer creates a gateway.
func NewProxyServer(cfg ProxyConfig) (*ProxyServer, error) {
	if cfg.Domain == "" {
		return nil, errors.New("proxy domain is required")
	}
	if cfg.UpstreamScheme == "" {
		cfg.UpstreamScheme = "https"
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 30 * time.Second
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	if cfg.AllowedMethods == "" {
		cfg.AllowedMethods = "GET, POST, PUT, DELETE, OPTIONS, HEAD"
	}
	if cfg.AllowedHeaders == "" {
		cfg.AllowedHeaders = "*"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}

	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = cfg.UpstreamTimeout
		transport = t
	}

	ps := &ProxyServer{
		ListenAddr: cfg.ListenAddr,
		AdminAddr:  cfg.AdminAddr,
		cfg:        cfg,
		codec:      codec.New(cfg.Domain),
		cors: corsPolicy{
			Origin:  cfg.AllowedOrigin,
			Methods: cfg.AllowedMethods,
			Headers: cfg.AllowedHeaders,
		},
		limiter: newClientLimiter(cfg.RateLimit, cfg.RateBurst),
		metrics: cfg.Metrics,
		traffic: NewTrafficLog(cfg.TrafficSize),
		log:     logging.OrNop(cfg.Logger).Named("gateway"),
		ready:   make(chan struct{}),
	}

	ps.proxy = &httputil.ReverseProxy{
		Rewrite:        ps.rewrite,
		Transport:      transport,
		ModifyResponse: ps.modifyResponse,
		ErrorHandler:   ps.errorHandler,
		FlushInterval:  -1,
		ErrorLog:       zap.NewStdLog(ps.log),
	}

	return ps, nil
}

// Start binds the gateway (and admin) listeners and serves in the background.
func (ps *ProxyServer) Start(ctx context.Context) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.running.Load() {
		return fmt.Errorf("proxy server already running")
	}

	listener, err := net.Listen("tcp", ps.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ps.ListenAddr, err)
	}
	ps.ListenAddr = listener.Addr().String()
	ps.httpServer = &http.Server{
		Handler:           ps,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var adminListener net.Listener
	if ps.AdminAddr != "" {
		adminListener, err = net.Listen("tcp", ps.AdminAddr)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to listen on %s: %w", ps.AdminAddr, err)
		}
		ps.AdminAddr = adminListener.Addr().String()
		ps.adminServer = &http.Server{
			Handler:           ps.AdminHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	ps.startTime = time.Now()
	ps.running.Store(true)
	ps.readyOnce.Do(func() { close(ps.ready) })

	go ps.serve(ps.httpServer, listener)
	if adminListener != nil {
		go ps.serve(ps.adminServer, adminListener)
	}

	ps.log.Info("gateway listening",
		zap.String("addr", ps.ListenAddr),
		zap.String("admin", ps.AdminAddr),
		zap.String("domain", ps.cfg.Domain))
	return nil
}

func (ps *ProxyServer) serve(srv *http.Server, l net.Listener) {
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		ps.running.Store(false)
		ps.log.Error("server stopped", zap.String("addr", l.Addr().String()), zap.Error(err))
	}
}

// Stop gracefully stops the gateway and admin listeners.
func (ps *ProxyServer) Stop(ctx context.Context) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.running.Load() {
		return fmt.Errorf("proxy server not running")
	}

	var errs []error
	if err := ps.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if ps.adminServer != nil {
		if err := ps.adminServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin: %w", err))
		}
	}
	ps.running.Store(false)
	return errors.Join(errs...)
}

// IsRunning returns true if the gateway is running.
func (ps *ProxyServer) IsRunning() bool {
	return ps.running.Load()
}

// Ready returns a channel that is closed once the listeners are bound.
func (ps *ProxyServer) Ready() <-chan struct{} {
	return ps.ready
}

// Metrics returns the gateway collectors.
func (ps *ProxyServer) Metrics() *Metrics {
	return ps.metrics
}

// Traffic returns the recent request log.
func (ps *ProxyServer) Traffic() *TrafficLog {
	return ps.traffic
}

// ProxyStats holds gateway statistics.
type ProxyStats struct {
	ListenAddr    string        `json:"listen_addr"`
	Domain        string        `json:"domain"`
	Running       bool          `json:"running"`
	Uptime        time.Duration `json:"uptime"`
	TotalRequests int64         `json:"total_requests"`
}

// Stats returns gateway statistics.
func (ps *ProxyServer) Stats() ProxyStats {
	var uptime time.Duration
	if ps.running.Load() {
		uptime = time.Since(ps.startTime)
	}
	return ProxyStats{
		ListenAddr:    ps.ListenAddr,
		Domain:        ps.cfg.Domain,
		Running:       ps.running.Load(),
		Uptime:        uptime,
		TotalRequests: ps.requestSeq.Load(),
	}
}

// AdminHandler serves /metrics, /healthz and /requests.
func (ps *ProxyServer) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", ps.metrics.Handler())
	mux.HandleFunc("/requests", ps.traffic.serveHTTP)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ps.Stats())
	})
	return mux
}

// ServeHTTP routes one gateway request.
func (ps *ProxyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	seq := ps.requestSeq.Add(1)
	ps.metrics.InFlight.Inc()
	defer ps.metrics.InFlight.Dec()

	sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	st := &requestState{}
	ps.route(sr, r, st)

	d := time.Since(start)
	ps.metrics.observe(st.outcome, sr.status, d)

	fields := []zap.Field{
		zap.Int64("seq", seq),
		zap.String("method", r.Method),
		zap.String("host", r.Host),
		zap.String("path", r.URL.Path),
		zap.Int("status", sr.status),
		zap.Duration("duration", d),
		zap.String("outcome", st.outcome),
	}
	entry := RequestRecord{
		Seq:       seq,
		Timestamp: start,
		Method:    r.Method,
		Host:      r.Host,
		Path:      r.URL.Path,
		Status:    sr.status,
		Outcome:   st.outcome,
		Duration:  d,
	}
	if st.target != nil {
		entry.Target = st.target.URL.String()
		fields = append(fields, zap.String("target", entry.Target))
	}
	ps.traffic.Add(entry)
	ps.log.Info("request", fields...)
}

func (ps *ProxyServer) route(w http.ResponseWriter, r *http.Request, st *requestState) {
	if !ps.limiter.allow(r) {
		st.outcome = OutcomeRateLimited
		w.Header().Set("Retry-After", "1")
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	target, err := ResolveTarget(ps.codec, r.Host, r.URL, ps.cfg.UpstreamScheme)
	if err != nil {
		st.outcome = OutcomeBadHost
		http.Error(w, "Invalid proxy URL format", http.StatusBadRequest)
		return
	}

	if ps.cfg.ScriptSubdomain != "" && target.Label == ps.cfg.ScriptSubdomain {
		st.outcome = OutcomeScript
		ps.serveScript(w, r)
		return
	}

	if target.Host == "www" {
		st.outcome = OutcomeWWW
		http.Redirect(w, r, "https://"+ps.cfg.Domain, http.StatusMovedPermanently)
		return
	}

	st.target = target

	if ps.cfg.DebugPath != "" && strings.HasPrefix(r.URL.Path, ps.cfg.DebugPath) {
		st.outcome = OutcomeDebug
		ps.serveDebug(w, r, target)
		return
	}

	if r.Method == http.MethodOptions {
		st.outcome = OutcomePreflight
		ps.cors.preflight(w, r)
		return
	}

	st.outcome = OutcomeProxied
	ps.proxy.ServeHTTP(w, r.WithContext(withState(r.Context(), st)))
}

func (ps *ProxyServer) serveScript(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/"+scripts.Name {
		http.NotFound(w, r)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/javascript; charset=utf-8")
	h.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(ps.cfg.ScriptMaxAge/time.Second)))
	h.Set("Access-Control-Allow-Origin", ps.cors.Origin)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		io.WriteString(w, scripts.TunnelJS())
	}
}

// rewrite prepares the outbound request.
func (ps *ProxyServer) rewrite(pr *httputil.ProxyRequest) {
	st := stateFrom(pr.In.Context())
	target := st.target

	u := *target.URL
	pr.Out.URL = &u
	pr.Out.Host = ""

	filterRequestHeaders(pr.Out.Header, ps.cfg.UserAgent, pr.In.UserAgent())

	for _, name := range []string{"Origin", "Referer"} {
		if v := pr.Out.Header.Get(name); v != "" {
			pr.Out.Header.Set(name, ps.codec.FromProxy(v))
		}
	}
}

// modifyResponse rewrites redirects, replaces error bodies, injects the
// control script and fixes up headers on every upstream response.
func (ps *ProxyServer) modifyResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusSwitchingProtocols {
		return nil
	}
	st := stateFrom(resp.Request.Context())
	target := st.target

	switch {
	case resp.StatusCode >= 301 && resp.StatusCode <= 308 && resp.Header.Get("Location") != "":
		st.outcome = OutcomeRedirect
		ps.rewriteRedirect(resp, target)
		stripBlockingHeaders(resp.Header)
		ps.cors.apply(resp.Header, redirectExposeHeaders)
		return nil

	case resp.StatusCode >= 400:
		st.outcome = OutcomeUpstreamErr
		page := renderErrorPage(resp.StatusCode, target.URL.String())
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(page))
		resp.ContentLength = int64(len(page))
		resp.Header = http.Header{}
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		resp.Header.Set("Content-Length", strconv.Itoa(len(page)))
		ps.cors.apply(resp.Header, "")
		return nil
	}

	if ps.shouldInject(resp) {
		ps.inject(resp, target, st)
	}
	stripBlockingHeaders(resp.Header)
	ps.cors.apply(resp.Header, "")
	return nil
}

func (ps *ProxyServer) rewriteRedirect(resp *http.Response, target *Target) {
	original := resp.Header.Get("Location")
	loc, err := url.Parse(original)
	if err != nil {
		return
	}
	resolved := target.URL.ResolveReference(loc)

	resp.Header.Set("Location", ps.codec.ToProxy(resolved.String()))
	resp.Header.Set("X-Redirect-Status", strconv.Itoa(resp.StatusCode))
	resp.Header.Set("X-Redirect-Location", original)

	resp.Body.Close()
	resp.Body = http.NoBody
	resp.ContentLength = 0
	resp.Header.Del("Content-Length")
	resp.Header.Del("Content-Encoding")
}

func (ps *ProxyServer) shouldInject(resp *http.Response) bool {
	if !ps.cfg.Inject || resp.Request.Method == http.MethodHead {
		return false
	}
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified {
		return false
	}
	return ShouldInject(resp.Header.Get("Content-Type"))
}

func (ps *ProxyServer) inject(resp *http.Response, target *Target, st *requestState) {
	raw := newReplayBody(resp.Body)
	decoded, err := decodeBody(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		resp.Body = raw.rewind()
		ps.log.Debug("skipping injection",
			zap.String("target", target.URL.String()),
			zap.String("encoding", resp.Header.Get("Content-Encoding")),
			zap.Error(err))
		return
	}
	raw.commit()

	payload := scripts.Payload(scripts.Config{
		ProxyDomain:    ps.cfg.Domain,
		TargetOrigin:   "https://" + target.Host,
		AllowedOrigins: ps.cfg.TunnelOrigins,
	})
	resp.Body = NewInjectingReader(decoded, payload)
	resp.ContentLength = -1
	resp.Header.Del("Content-Length")
	resp.Header.Del("Content-Encoding")

	st.outcome = OutcomeInjected
	ps.metrics.InjectedTotal.Inc()
}

// errorHandler answers upstream fetch failures.
func (ps *ProxyServer) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	st := stateFrom(r.Context())
	if st != nil {
		st.outcome = OutcomeFetchError
	}

	level := zap.WarnLevel
	if errors.Is(err, context.Canceled) {
		level = zap.DebugLevel
	}
	if ce := ps.log.Check(level, "upstream fetch failed"); ce != nil {
		target := ""
		if st != nil && st.target != nil {
			target = st.target.URL.String()
		}
		ce.Write(zap.String("target", target), zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", ps.cors.Origin)
	w.WriteHeader(http.StatusInternalServerError)
	io.WriteString(w, "Proxy error: "+err.Error())
}

// statusRecorder captures the status code while staying transparent to
// flushing and hijacking through Unwrap.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rr *statusRecorder) WriteHeader(code int) {
	if !rr.wroteHeader && code >= 200 {
		rr.status = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *statusRecorder) Write(b []byte) (int, error) {
	rr.wroteHeader = true
	return rr.ResponseWriter.Write(b)
}

func (rr *statusRecorder) Flush() {
	http.NewResponseController(rr.ResponseWriter).Flush()
}

func (rr *statusRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}
