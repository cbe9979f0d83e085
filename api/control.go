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

	"github.com/moyoez/localswap/api/controllers"
	"github.com/moyoez/localswap/api/middlewares"
	"github.com/moyoez/localswap/api/notifyhub"
	"github.com/moyoez/localswap/swap"
	"github.com/moyoez/localswap/tool"
)

// Catalog lists and validates selectable applications.
type Catalog interface {
	controllers.Catalog
	controllers.AppLister
}

// ControlOptions wires the control API.
type ControlOptions struct {
	Addr       string
	Sessions   *swap.Manager
	Catalog    Catalog
	Resolver   controllers.Resolver
	History    controllers.HistoryReader // optional
	Hub        *notifyhub.Hub            // optional
	Metrics    http.Handler              // optional
	SharingURI func() (string, error)
	// OnNotifyConnect runs when a websocket client connects.
	OnNotifyConnect func()
	Logger          *log.Logger
}

// ControlServer is the local-only API the host UI drives the swap through.
type ControlServer struct {
	opts   ControlOptions
	logger *log.Logger
	engine *gin.Engine

	mu     sync.Mutex
	server *http.Server
	done   chan struct{}
}

func NewControlServer(opts ControlOptions) *ControlServer {
	s := &ControlServer{opts: opts, logger: tool.LoggerOr(opts.Logger, "[Server:control]")}
	s.engine = s.setupRoutes()
	return s
}

func (s *ControlServer) setupRoutes() *gin.Engine {
	if s.logger.GetLevel() == log.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	sessionCtrl := controllers.NewSessionController(s.opts.Sessions, s.opts.Catalog)
	platformCtrl := controllers.NewPlatformController(s.opts.Sessions, s.opts.Resolver)

	v1 := engine.Group("/api/swap/v1", middlewares.OnlyAllowLocal)
	{
		v1.GET("/session", sessionCtrl.GetSession)
		v1.POST("/session/start", sessionCtrl.StartSession)
		v1.POST("/session/advance", sessionCtrl.Advance)
		v1.POST("/session/back", sessionCtrl.Back)
		v1.POST("/session/stop", sessionCtrl.Stop)
		v1.POST("/session/detach", sessionCtrl.Detach)
		v1.POST("/session/bluetooth", sessionCtrl.RequestBluetooth)
		v1.PUT("/session/selection", sessionCtrl.PutSelection)
		v1.POST("/platform-result", platformCtrl.PlatformResult)
		v1.GET("/apps", controllers.ListApps(s.opts.Catalog))
		v1.GET("/qr", controllers.SessionQRCode(s.opts.Sessions, s.opts.SharingURI))
		v1.GET("/probe", controllers.ProbePeer)
		if s.opts.History != nil {
			v1.GET("/rebuilds", controllers.ListRebuilds(s.opts.History))
		}
		if s.opts.Hub != nil {
			v1.GET("/notify-ws", notifyhub.HandleNotifyWS(s.opts.Hub, s.opts.OnNotifyConnect))
		}
	}
	if s.opts.Metrics != nil {
		engine.GET("/metrics", middlewares.OnlyAllowLocal, gin.WrapH(s.opts.Metrics))
	}
	return engine
}

// Handler returns the routed engine.
func (s *ControlServer) Handler() http.Handler {
	return s.engine
}

// Start binds and serves in the background.
func (s *ControlServer) Start(ctx context.Context) error {
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
	server := &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})
	s.server, s.done = server, done

	s.logger.Infof("Starting control API on http://%s/api/swap/v1", ln.Addr())
	go func() {
		defer close(done)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Control API stopped: %v", err)
		}
	}()
	return nil
}

func (s *ControlServer) Stop(ctx context.Context) {
	s.mu.Lock()
	server, done := s.server, s.done
	s.server = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
	}
	<-done
}
