package server

import (
	"fmt"
	"net/http"
	"time"

	"rwa/engine"
	"rwa/internal/logger"

	"github.com/go-playground/validator/v10"
)

type Server struct {
	port     int
	engine   *engine.Engine
	authKeys map[string][]byte
	skew     time.Duration
	logger   *logger.Logger
	validate *validator.Validate
}

type Options struct {
	Port   int
	Engine *engine.Engine
	// AuthKeys maps API key ids to their HMAC secrets.
	AuthKeys map[string][]byte
	// AllowedSkew bounds request timestamps; zero disables the check.
	AllowedSkew time.Duration
	Logger      *logger.Logger
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Server{
		port:     opts.Port,
		engine:   opts.Engine,
		authKeys: opts.AuthKeys,
		skew:     opts.AllowedSkew,
		logger:   opts.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func NewServer(opts Options) *http.Server {
	s := New(opts)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
