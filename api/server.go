package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/moyoez/localswap/api/middlewares"
	"github.com/moyoez/localswap/tool"
)

const shutdownTimeout = 5 * time.Second

// RepoServerOptions configures a RepoServer.
type RepoServerOptions struct {
	Name      string // used in logs, e.g. "network" or "proxy"
	Addr      string // host:port to bind
	Dir       string // published repository directory
	RateLimit float64
	RateBurst int
	Logger    *log.Logger
}

// RepoServer serves the published repository under tool.RepoPath. It binds on
// Start and serves in the background until Stop.
type RepoServer struct {
	opts   RepoServerOptions
	logger *log.Logger

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

func NewRepoServer(opts RepoServerOptions) *RepoServer {
	if opts.Name == "" {
		opts.Name = "repo"
	}
	return &RepoServer{opts: opts, logger: tool.LoggerOr(opts.Logger, "[Server:"+opts.Name+"]")}
}

func (s *RepoServer) setupRoutes() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middlewares.RateLimit(s.opts.RateLimit, s.opts.RateBurst))
	// Dir is a symlink swapped on publish; every request resolves it afresh
	engine.StaticFS(tool.RepoPath, gin.Dir(s.opts.Dir, false))
	engine.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, tool.RepoPath+"/")
	})
	return engine
}

// Start binds the listener. It is a no-op while already serving.
func (s *RepoServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.opts.Addr, err)
	}
	server := &http.Server{
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})
	s.server, s.listener, s.done = server, ln, done

	s.logger.Infof("Serving %s on http://%s%s", s.opts.Dir, ln.Addr(), tool.RepoPath)
	go func() {
		defer close(done)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Server stopped: %v", err)
			s.mu.Lock()
			if s.server == server {
				s.server, s.listener = nil, nil
			}
			s.mu.Unlock()
		}
	}()
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight downloads.
func (s *RepoServer) Stop(ctx context.Context) {
	s.mu.Lock()
	server, done := s.server, s.done
	s.server, s.listener = nil, nil
	s.mu.Unlock()
	if server == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnf("Forcing close: %v", err)
		_ = server.Close()
	}
	<-done
	s.logger.Infof("Stopped")
}

func (s *RepoServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server != nil
}

// Addr returns the bound address, or "" when stopped.
func (s *RepoServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
