package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/moyoez/localswap/api"
	"github.com/moyoez/localswap/api/notifyhub"
	"github.com/moyoez/localswap/localrepo"
	"github.com/moyoez/localswap/metrics"
	"github.com/moyoez/localswap/notify"
	"github.com/moyoez/localswap/platform"
	"github.com/moyoez/localswap/rebuild"
	"github.com/moyoez/localswap/settings"
	"github.com/moyoez/localswap/store"
	"github.com/moyoez/localswap/swap"
	"github.com/moyoez/localswap/tool"
	"github.com/moyoez/localswap/transport"
	"github.com/moyoez/localswap/types"
)

var CLI struct {
	Config       string `short:"c" help:"Configuration file path" default:"config.yaml" env:"LOCALSWAP_CONFIG"`
	Log          string `help:"Log mode: dev, prod or none" default:"dev" env:"LOCALSWAP_LOG"`
	Alias        string `help:"Repository name shown to peers" env:"LOCALSWAP_ALIAS"`
	RepoRoot     string `help:"Directory holding the published repository" env:"LOCALSWAP_REPO_ROOT"`
	AppsDir      string `help:"Application catalog directory" env:"LOCALSWAP_APPS_DIR"`
	ShareHost    string `help:"Address advertised to peers (default: first local IPv4)" env:"LOCALSWAP_SHARE_HOST"`
	SharePort    int    `help:"Port of the network share" env:"LOCALSWAP_SHARE_PORT"`
	ControlPort  int    `help:"Port of the local control API" env:"LOCALSWAP_CONTROL_PORT"`
	NatsURL      string `name:"nats-url" help:"Publish session notifications to this NATS server" env:"LOCALSWAP_NATS_URL"`
	NotifySocket string `help:"Unix socket of the host UI" env:"LOCALSWAP_NOTIFY_SOCKET"`
	SkipNotify   bool   `help:"Do not write notifications to the Unix socket"`
	Nfc          bool   `help:"Report a near-field radio as available" env:"LOCALSWAP_NFC"`
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()
	kong.Parse(&CLI,
		kong.Name("localswap"),
		kong.Description("Share installed applications with a nearby device."),
	)

	tool.InitLogger()
	tool.SetLogMode(CLI.Log)

	appCfg, err := tool.LoadConfig(CLI.Config)
	if err != nil {
		tool.DefaultLogger.Fatalf("%v", err)
	}
	applyFlags(&appCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, appCfg); err != nil {
		tool.DefaultLogger.Fatalf("%v", err)
	}
}

func applyFlags(cfg *types.AppConfig) {
	if CLI.Alias != "" {
		cfg.Alias = CLI.Alias
	}
	if CLI.RepoRoot != "" {
		cfg.RepoRoot = CLI.RepoRoot
	}
	if CLI.AppsDir != "" {
		cfg.AppsDir = CLI.AppsDir
	}
	if CLI.ShareHost != "" {
		cfg.ShareHost = CLI.ShareHost
	}
	if CLI.SharePort > 0 {
		cfg.SharePort = CLI.SharePort
	}
	if CLI.ControlPort > 0 {
		cfg.ControlPort = CLI.ControlPort
	}
	if CLI.NatsURL != "" {
		cfg.NatsURL = CLI.NatsURL
	}
	if CLI.NotifySocket != "" {
		cfg.NotifySocket = CLI.NotifySocket
	}
	if CLI.Nfc {
		cfg.NfcAvailable = true
	}
}

func run(ctx context.Context, cfg types.AppConfig) error {
	logger := tool.DefaultLogger

	recorder := metrics.NewRecorder(prom.NewRegistry())

	hub := notifyhub.New()
	sinks := []notify.Sink{hub}
	if !CLI.SkipNotify {
		sinks = append(sinks, notify.NewSocketSink(cfg.NotifySocket, nil))
	}
	if cfg.NatsURL != "" {
		natsSink, err := notify.NewNATSSink(cfg.NatsURL, cfg.NatsSubject)
		if err != nil {
			logger.Warnf("NATS notifications disabled: %v", err)
		} else {
			sinks = append(sinks, natsSink)
			defer func() { _ = natsSink.Close() }()
		}
	}
	dispatcher := notify.NewDispatcher(nil, recorder, sinks...)
	defer dispatcher.Close()

	gateway := platform.NewHeadless(dispatcher, cfg.NfcAvailable, nil)

	builder, err := localrepo.NewBuilder(cfg.RepoRoot, cfg.AppsDir, cfg.Alias, nil)
	if err != nil {
		return err
	}
	taskOpts := rebuild.Options{Builder: builder, Metrics: recorder}
	var history *store.HistoryStore
	if cfg.HistoryDB != "" {
		history, err = store.NewHistoryStore(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer func() { _ = history.Close() }()
		taskOpts.History = history
	}
	task := rebuild.NewTask(taskOpts)
	defer task.Close()

	sharingURI := func() (string, error) {
		return tool.BuildSharingURI(cfg.ShareHost, cfg.SharePort)
	}

	proxyAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.BluetoothProxyPort))
	network := api.NewRepoServer(api.RepoServerOptions{
		Name:      "network",
		Addr:      fmt.Sprintf(":%d", cfg.SharePort),
		Dir:       builder.PublishedDir(),
		RateLimit: cfg.ShareRateLimit,
		RateBurst: cfg.ShareRateBurst,
	})
	proxy := api.NewRepoServer(api.RepoServerOptions{
		Name: "proxy",
		Addr: proxyAddr,
		Dir:  builder.PublishedDir(),
	})
	relay := platform.NewRelay(gateway, "http://"+proxyAddr+tool.RepoPath, nil)

	prefs := settings.NewFileProvider(tool.ConfigPath, cfg, nil)
	if err := prefs.Watch(ctx); err != nil {
		logger.Warnf("Settings will not reload: %v", err)
	}
	defer func() { _ = prefs.Close() }()

	var sessions *swap.Manager
	coord, err := transport.NewCoordinator(transport.Options{
		Network:              network,
		Bluetooth:            relay,
		Proxy:                proxy,
		Gateway:              gateway,
		Settings:             prefs,
		Metrics:              recorder,
		IdleTimeout:          time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		DiscoverableDuration: cfg.DiscoverableSecs,
		OnChange: func() {
			if sessions != nil {
				sessions.OnTransportChanged()
			}
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = coord.Close(context.Background()) }()

	sessions = swap.NewManager(func() (*swap.Controller, error) {
		return swap.NewController(swap.Options{
			Coordinator: coord,
			Rebuilder:   task,
			Renderer:    dispatcher,
			SharingURI:  sharingURI,
		})
	})
	defer sessions.Stop(context.Background())

	controlOpts := api.ControlOptions{
		Addr:       net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.ControlPort)),
		Sessions:   sessions,
		Catalog:    localrepo.NewCatalog(cfg.AppsDir),
		Resolver:   gateway,
		Hub:        hub,
		Metrics:    recorder.Handler(),
		SharingURI: sharingURI,
		OnNotifyConnect: func() {
			if c := sessions.Current(); c != nil {
				dispatcher.Render(c.Snapshot())
			}
		},
	}
	if history != nil {
		controlOpts.History = history
	}
	control := api.NewControlServer(controlOpts)
	if err := control.Start(ctx); err != nil {
		return err
	}
	defer control.Stop(context.Background())

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}
