package clipboard

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxUploadSize  = 1 << 30
	DefaultMaxMessageSize = 100 << 20
	DefaultSendQueueSize  = 256

	tracerName = "github.com/astromechza/shared-clipboard/pkg/clipboard"
)

//go:embed page/index.html
var indexPage []byte

type Config struct {
	// MaxUploadSize caps the size of the uploaded file in bytes.
	MaxUploadSize int64
	// MaxMessageSize caps a single inbound channel frame in bytes.
	MaxMessageSize int64
	// SendQueueSize is the number of outbound frames buffered per connection.
	SendQueueSize int
	// Registry receives the server's collectors and backs /metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry
	// TracerProvider creates the spans around ingress handlers. The global provider is used when nil.
	TracerProvider trace.TracerProvider
}

func DefaultConfig() Config {
	return Config{
		MaxUploadSize:  DefaultMaxUploadSize,
		MaxMessageSize: DefaultMaxMessageSize,
		SendQueueSize:  DefaultSendQueueSize,
	}
}

// Server owns the ingress handlers. Every store mutation and the fan-out of its event happen under
// seq, so each connection receives events in the order the store was changed.
type Server struct {
	store       *Store
	registry    *Registry
	broadcaster *Broadcaster
	metrics     *Metrics
	promReg     *prometheus.Registry
	config      Config
	upgrader    websocket.Upgrader
	tracer      trace.Tracer
	seq         sync.Mutex
}

func NewServer(store *Store, config Config) *Server {
	def := DefaultConfig()
	if config.MaxUploadSize <= 0 {
		config.MaxUploadSize = def.MaxUploadSize
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = def.SendQueueSize
	}
	promReg := config.Registry
	if promReg == nil {
		promReg = prometheus.NewRegistry()
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	metrics := NewMetrics(promReg)
	registry := NewRegistry()
	return &Server{
		store:       store,
		registry:    registry,
		broadcaster: NewBroadcaster(registry, metrics),
		metrics:     metrics,
		promReg:     promReg,
		config:      config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		tracer: tp.Tracer(tracerName),
	}
}

func (s *Server) Store() *Store {
	return s.store
}

// Connections returns the number of registered channel connections.
func (s *Server) Connections() int {
	return s.registry.Len()
}

// Router returns the HTTP handler serving the page, the channel, and the request endpoints.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(routerMiddleware...)

	r.Methods(http.MethodGet).Path("/").HandlerFunc(s.index)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.serveChannel)
	r.Methods(http.MethodGet).Path("/api/text").HandlerFunc(s.getText)
	r.Methods(http.MethodPost).Path("/upload").HandlerFunc(s.upload)
	r.Methods(http.MethodPost).Path("/delete").HandlerFunc(s.deleteFile)
	r.Methods(http.MethodGet, http.MethodHead).Path("/download").HandlerFunc(s.download)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	return r
}

// Close closes every open channel connection. Hijacked connections outlive http.Server.Shutdown,
// so this is how channels end at shutdown.
func (s *Server) Close() {
	s.registry.ForEach(func(c *Conn) {
		c.close()
	})
}

var routerMiddleware = []mux.MiddlewareFunc{accessLog, middleware.Recoverer}

func accessLog(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) index(writer http.ResponseWriter, request *http.Request) {
	// the page opens its channel against ws://host/
	if websocket.IsWebSocketUpgrade(request) {
		s.serveChannel(writer, request)
		return
	}
	writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := writer.Write(indexPage); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) getText(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"text": s.store.Text()})
}

func (s *Server) serveChannel(writer http.ResponseWriter, request *http.Request) {
	ws, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	ws.SetReadLimit(s.config.MaxMessageSize)

	c := newConn(ws, s.config.SendQueueSize)
	handle := s.connect(c)
	defer s.disconnect(c, handle)
	c.run(s.handleMessage)
}

// connect opens c, registers it and queues the current state for it alone. Holding seq means no
// event can be queued between the snapshot and the connection joining the registry.
func (s *Server) connect(c *Conn) Handle {
	s.seq.Lock()
	defer s.seq.Unlock()
	c.markOpen()
	handle := s.registry.Add(c)
	text, meta := s.store.Snapshot()
	s.broadcaster.Unicast(c, TextUpdated{Text: text})
	if meta != nil {
		s.broadcaster.Unicast(c, FileChanged{Name: &meta.Name})
	}
	s.metrics.connectionsTotal.Inc()
	s.metrics.activeConnections.Inc()
	slog.Info("channel opened", "conn", c.ID(), "connections", s.registry.Len())
	return handle
}

func (s *Server) disconnect(c *Conn, handle Handle) {
	c.close()
	if s.registry.Remove(handle) {
		s.metrics.activeConnections.Dec()
	}
	slog.Info("channel closed", "conn", c.ID(), "connections", s.registry.Len())
}

func (s *Server) handleMessage(c *Conn, raw []byte) error {
	msg, err := decodeMessage(raw)
	if err != nil {
		s.metrics.messagesTotal.WithLabelValues("malformed").Inc()
		return err
	}
	switch msg.Type {
	case messageTypeEdit:
		if msg.Text == nil {
			s.metrics.messagesTotal.WithLabelValues("malformed").Inc()
			return errEditWithoutText
		}
		_, span := s.tracer.Start(context.Background(), "clipboard.edit", trace.WithAttributes(connAttr(c)))
		queued := s.setText(*msg.Text)
		span.End()
		s.metrics.messagesTotal.WithLabelValues("applied").Inc()
		slog.Debug("applied edit", "conn", c.ID(), "length", len(*msg.Text), "queued", queued)
	default:
		s.metrics.messagesTotal.WithLabelValues("ignored").Inc()
		slog.Debug("ignored message", "conn", c.ID(), "type", msg.Type)
	}
	return nil
}

func (s *Server) setText(text string) int {
	s.seq.Lock()
	defer s.seq.Unlock()
	s.store.SetText(text)
	return s.broadcaster.Broadcast(TextUpdated{Text: text})
}

func (s *Server) setFile(f *File) int {
	s.seq.Lock()
	defer s.seq.Unlock()
	s.store.SetFile(f)
	return s.broadcaster.Broadcast(FileChanged{Name: &f.Name})
}

// clearFile reports false, and broadcasts nothing, when there was no file to clear.
func (s *Server) clearFile() bool {
	s.seq.Lock()
	defer s.seq.Unlock()
	if !s.store.ClearFile() {
		return false
	}
	s.broadcaster.Broadcast(FileChanged{Name: nil})
	return true
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}
