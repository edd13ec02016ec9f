package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/musicd/internal/backend"
	"github.com/example/musicd/internal/config"
	"github.com/example/musicd/internal/jobqueue"
	"github.com/example/musicd/internal/rpcerr"
	"github.com/example/musicd/internal/trackcache"
	"github.com/example/musicd/internal/types"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	reader          io.Reader
	writer          io.Writer
	logger          *slog.Logger
	shutdownTimeout time.Duration
	writeBuf        int
}

func defaultOptions() options {
	return options{
		logger:          slog.Default(),
		shutdownTimeout: 30 * time.Second,
		writeBuf:        64,
	}
}

// Option configures a Server.
type Option func(*options)

// WithReader sets the stream requests are read from.
func WithReader(r io.Reader) Option {
	return func(o *options) { o.reader = r }
}

// WithWriter sets the stream responses and notifications are written to.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithLogger sets the slog.Logger used for request and worker logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithShutdownTimeout sets the server's shutdownTimeout option. Run does not
// read it: on shutdown it waits for the active job with no deadline.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.shutdownTimeout = d }
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// EngineSet maps a backend id ("musicgen", "ace_step") to its loaded
// Generate adapter. A missing entry means that backend has no engine loaded;
// requests routed to it fail with MODEL_LOAD_FAILED.
type EngineSet map[string]engine

// WrapAR adapts an AR engine (typically *ar.Engine) to the shape the worker
// drives.
func WrapAR(e arGenerator) engine { return arEngine{e: e} }

// WrapDiffusion adapts a diffusion engine (typically *diffusion.Engine).
func WrapDiffusion(e diffusionGenerator) engine { return diffusionEngine{e: e} }

// Server wires a reader/writer pair, the job queue, the track cache, the
// backend registry, and the loaded inference engines into the daemon's
// request/notification loop. Exactly one worker goroutine runs inference;
// the writer side is serialized by a single-consumer channel so responses
// and notifications never interleave on the wire.
type Server struct {
	opts options

	queue    *jobqueue.Queue
	cache    *trackcache.Cache
	registry *backend.Registry
	engines  EngineSet
	cfg      config.Config

	logger *slog.Logger

	writeCh   chan []byte
	jobSignal chan struct{}
	closed    atomic.Bool
	shutdown  atomic.Bool

	activeMu  sync.Mutex
	activeJob *types.Job
}

// setActiveJob records which job the worker is currently processing, so
// cancel() can distinguish a queued job (removable outright) from the one
// in flight (only cooperatively cancellable). Pass nil when the worker goes
// idle.
func (s *Server) setActiveJob(job *types.Job) {
	s.activeMu.Lock()
	s.activeJob = job
	s.activeMu.Unlock()
}

func (s *Server) getActiveJob() *types.Job {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.activeJob
}

// New builds a Server. queue, cache, and registry are the already-built
// supporting components; engines maps backend id to its loaded Generate
// adapter built with WrapAR/WrapDiffusion.
func New(queue *jobqueue.Queue, cache *trackcache.Cache, registry *backend.Registry, engines EngineSet, cfg config.Config, optFns ...Option) *Server {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Server{
		opts:      opts,
		queue:     queue,
		cache:     cache,
		registry:  registry,
		engines:   engines,
		cfg:       cfg,
		logger:    opts.logger,
		writeCh:   make(chan []byte, opts.writeBuf),
		jobSignal: make(chan struct{}, 1),
	}
}

// Run drives the server until ctx is cancelled or the input stream reaches
// EOF or a shutdown request has been handled: one writer goroutine draining writeCh, one
// worker goroutine draining the job queue, and a reader loop on the calling
// goroutine dispatching each parsed line. On return the daemon has finished
// its active job and drained the writer.
func (s *Server) Run(ctx context.Context) error {
	stopWorker := make(chan struct{})

	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		s.runWriter()
	}()

	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		s.runWorker(stopWorker)
	}()

	readErr := s.runReader(ctx)

	close(stopWorker)
	workerWG.Wait() // let the active job finish and emit its terminal notification
	s.closeWriter()
	writerWG.Wait()

	return readErr
}

func (s *Server) runReader(ctx context.Context) error {
	scanner := bufio.NewScanner(s.opts.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		s.handleLine(ctx, line)

		if s.shutdown.Load() {
			return nil
		}
	}
	return scanner.Err()
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(newErrorResponse(nil, int(rpcerr.ParseError), "malformed JSON line"))
		return
	}

	isNotification := len(req.ID) == 0

	result, rerr := s.dispatch(ctx, req.Method, req.Params)
	if isNotification {
		return
	}
	if rerr != nil {
		s.writeResponse(newErrorResponse(req.ID, rerr.code, rerr.message))
		return
	}
	s.writeResponse(newResponse(req.ID, result))
}

func (s *Server) runWriter() {
	for line := range s.writeCh {
		if _, err := s.opts.writer.Write(line); err != nil {
			s.logger.Error("write failed", slog.String("error", err.Error()))
		}
	}
}

func (s *Server) closeWriter() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.writeCh)
	}
}

func (s *Server) writeResponse(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response failed", slog.String("error", err.Error()))
		return
	}
	s.enqueueLine(data)
}

// notify marshals and enqueues a server-initiated notification.
func (s *Server) notify(n notification) {
	data, err := json.Marshal(n)
	if err != nil {
		s.logger.Error("marshal notification failed", slog.String("error", err.Error()))
		return
	}
	s.enqueueLine(data)
}

func (s *Server) enqueueLine(data []byte) {
	if s.closed.Load() {
		return
	}
	data = append(data, '\n')
	s.writeCh <- data
}

func (s *Server) wakeWorker() {
	select {
	case s.jobSignal <- struct{}{}:
	default:
	}
}
