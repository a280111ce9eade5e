package collector

import (
	"encoding/json"
	"hash/fnv"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"

	"github.com/klauspost/compress/gzhttp"

	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
	"github.com/roman-kulish/spindle-monitor/internal/synth"
)

// Response is the body returned for every collector action.
type Response struct {
	SpectrogramData []spectrum.Sample `json:"spectrogramData"`
}

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "collector"))
	}
}

// WithSeed seeds the per-channel generators, making the produced data reproducible.
func WithSeed(seed uint64) func(*Server) {
	return func(s *Server) {
		s.seed = &seed
	}
}

// WithGeneratorOptions passes options to every per-channel generator.
func WithGeneratorOptions(options ...func(*synth.Generator)) func(*Server) {
	return func(s *Server) {
		s.generatorOptions = append(s.generatorOptions, options...)
	}
}

// WithFailureRate makes the given fraction of fetch requests fail with 503, to exercise the
// client's transient failure handling.
func WithFailureRate(rate float64) func(*Server) {
	return func(s *Server) {
		s.failureRate = rate
	}
}

// Server simulates the remote collector: it produces synthetic spectrogram frames per channel
// between a start and a stop action.
type Server struct {
	seed             *uint64
	generatorOptions []func(*synth.Generator)
	failureRate      float64
	logger           *slog.Logger

	mu         sync.Mutex
	generators map[spectrum.Channel]*synth.Generator
	producing  map[spectrum.Channel]bool
	rng        *rand.Rand
}

// NewServer creates a collector simulator.
func NewServer(options ...func(*Server)) *Server {
	s := Server{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		generators: make(map[spectrum.Channel]*synth.Generator),
		producing:  make(map[spectrum.Channel]bool),
	}

	for _, option := range options {
		option(&s)
	}

	if s.seed != nil {
		s.rng = rand.New(rand.NewPCG(*s.seed, 1))
	} else {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &s
}

// Handler returns the HTTP handler serving the collector actions, with gzip support.
func (s *Server) Handler() http.Handler {
	return gzhttp.GzipHandler(http.HandlerFunc(s.serveAction))
}

// Producing reports whether the channel is currently producing data.
func (s *Server) Producing(ch spectrum.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.producing[ch]
}

func (s *Server) serveAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	ch, err := spectrum.ParseChannel(q.Get("channel"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	action := q.Get("action")
	logger := s.logger.With(slog.String("action", action), slog.String("channel", ch.String()))

	var samples []spectrum.Sample
	switch action {
	case "start":
		samples = s.start(ch)
		logger.Info("channel started")

	case "stop":
		if s.stop(ch) {
			logger.Info("channel stopped")
		}

	case "fetch":
		if s.shouldFail() {
			logger.Warn("injected failure")
			writeError(w, http.StatusServiceUnavailable, "collector busy")
			return
		}
		samples = s.fetch(ch)

	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}

	if samples == nil {
		samples = []spectrum.Sample{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(Response{SpectrogramData: samples}); err != nil {
		logger.Error(err.Error())
	}
}

func (s *Server) start(ch spectrum.Channel) []spectrum.Sample {
	s.mu.Lock()
	gen := s.generator(ch)
	s.producing[ch] = true
	s.mu.Unlock()

	return gen.Samples()
}

func (s *Server) stop(ch spectrum.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasProducing := s.producing[ch]
	delete(s.producing, ch)
	return wasProducing
}

func (s *Server) fetch(ch spectrum.Channel) []spectrum.Sample {
	s.mu.Lock()
	if !s.producing[ch] {
		s.mu.Unlock()
		return nil
	}
	gen := s.generator(ch)
	s.mu.Unlock()

	return gen.Samples()
}

func (s *Server) shouldFail() bool {
	if s.failureRate <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.failureRate
}

// generator must be called with s.mu held.
func (s *Server) generator(ch spectrum.Channel) *synth.Generator {
	if gen, ok := s.generators[ch]; ok {
		return gen
	}

	options := s.generatorOptions
	if s.seed != nil {
		h := fnv.New64a()
		_, _ = h.Write([]byte(ch))
		options = append([]func(*synth.Generator){synth.WithSeed(*s.seed ^ h.Sum64())}, options...)
	}

	gen := synth.New(options...)
	s.generators[ch] = gen
	return gen
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
