package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bullen/bullend/pkg/client"
	"github.com/bullen/bullend/pkg/config"
	"github.com/bullen/bullend/pkg/engine"
	"github.com/bullen/bullend/pkg/logging"
	"github.com/bullen/bullend/pkg/storage"
	"github.com/bullen/bullend/pkg/transport"
)

// ConsoleDaemon ties the transport orchestrator, the console engine, the
// command socket and the web interface together
type ConsoleDaemon struct {
	config     *config.Config
	configPath string
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	orchestrator *transport.Orchestrator
	acquisition  *transport.AcquisitionResult
	consoleEng   *engine.ConsoleEngine
	socketServer *engine.SocketServer
	socketClient *client.SocketClient
	attemptStore *storage.AttemptStore
	webServer    *http.Server

	socketPath string
	done       chan struct{}
	quitOnce   sync.Once
}

// NewConsoleDaemon creates a new daemon instance. configPath is kept so the
// web config editor can persist changes.
func NewConsoleDaemon(cfg *config.Config, configPath string) (*ConsoleDaemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	socketPath := cfg.API.UnixSocket
	if socketPath == "" {
		socketPath = "/tmp/bullend.sock"
	}

	daemon := &ConsoleDaemon{
		config:       cfg,
		configPath:   configPath,
		ctx:          ctx,
		cancel:       cancel,
		socketPath:   socketPath,
		socketClient: client.NewSocketClient(socketPath),
		done:         make(chan struct{}),
	}

	store, err := storage.NewAttemptStore(cfg.Storage.DatabasePath, cfg.Storage.MaxAttempts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open attempt store: %w", err)
	}
	daemon.attemptStore = store

	daemon.orchestrator = transport.NewOrchestrator(transport.NewExecRunner())
	daemon.orchestrator.Sink = store

	daemon.consoleEng = engine.NewConsoleEngine(engine.Config{
		Inputs:          cfg.Audio.Inputs,
		Outputs:         cfg.Audio.Outputs,
		SampleRate:      cfg.Audio.SampleRate,
		FramesPerPeriod: cfg.Audio.FramesPerPeriod,
		SelectedChannel: cfg.Audio.SelectedChannel,
		RecordEnabled:   cfg.Recording.Enabled,
		RecordDir:       cfg.Recording.Directory,
	})
	daemon.consoleEng.SetSessionSink(store)

	if err := daemon.setupWebServer(); err != nil {
		cancel()
		store.Close()
		return nil, fmt.Errorf("failed to setup web server: %w", err)
	}

	return daemon, nil
}

// transportRequest builds the acquisition request from the configuration
func (d *ConsoleDaemon) transportRequest() *transport.TransportRequest {
	return &transport.TransportRequest{
		Device:            d.config.Audio.Device,
		SampleRate:        d.config.Audio.SampleRate,
		FramesPerPeriod:   d.config.Audio.FramesPerPeriod,
		Periods:           d.config.Audio.Periods,
		AllowSpawn:        d.config.Transport.AllowSpawn,
		Strategies:        d.config.Transport.Strategies,
		PollAttempts:      d.config.Transport.PollAttempts,
		PollInterval:      time.Duration(d.config.Transport.PollInterval * float64(time.Second)),
		EnableRemediation: d.config.Transport.EnableRemediation,
		DriverModule:      d.config.Transport.DriverModule,
	}
}

// Start acquires a transport, starts the engine and brings up both control
// surfaces. The daemon comes up even when acquisition fails.
func (d *ConsoleDaemon) Start() error {
	req := d.transportRequest()

	// Bound the whole acquisition by its worst-case poll budget plus
	// headroom for spawns and remediation settling
	budget := d.orchestrator.EstimateBudget(req) + 30*time.Second
	acqCtx, acqCancel := context.WithTimeout(d.ctx, budget)
	d.acquisition = d.orchestrator.Acquire(acqCtx, req)
	acqCancel()

	var source engine.CaptureSource
	if d.acquisition.Success() && d.config.Audio.CaptureCommand != "" {
		source = engine.NewExecCaptureSource(d.config.Audio.CaptureCommand,
			d.config.Audio.Inputs, d.config.Audio.FramesPerPeriod)
	} else {
		if d.acquisition.Success() {
			logging.Warn("daemon", "no capture command configured, meters and recording are idle")
		}
		source = engine.NewNullCaptureSource()
	}

	if err := d.consoleEng.Start(source, d.acquisition); err != nil {
		return fmt.Errorf("failed to start console engine: %w", err)
	}

	d.socketServer = engine.NewSocketServer(d.consoleEng, d.orchestrator.Discovery,
		d.attemptStore, d.socketPath, Version, d.requestShutdown)
	if err := d.socketServer.Start(); err != nil {
		d.consoleEng.Stop()
		return fmt.Errorf("failed to start command socket: %w", err)
	}

	// Give the socket a moment before probing it
	time.Sleep(100 * time.Millisecond)
	if !d.socketClient.IsConnected() {
		return fmt.Errorf("failed to connect to command socket")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
		logging.Infof("daemon", "starting web server on %s", addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("daemon", "web server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the daemon gracefully
func (d *ConsoleDaemon) Stop() error {
	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Warnf("daemon", "web server shutdown error: %v", err)
		}
	}

	if d.socketServer != nil {
		d.socketServer.Stop()
	}

	if d.consoleEng != nil {
		if err := d.consoleEng.Stop(); err != nil {
			logging.Warnf("daemon", "engine shutdown error: %v", err)
		}
	}

	d.wg.Wait()

	if d.attemptStore != nil {
		d.attemptStore.Close()
	}

	return nil
}

// Done is closed when a QUIT command asks the daemon to exit
func (d *ConsoleDaemon) Done() <-chan struct{} {
	return d.done
}

func (d *ConsoleDaemon) requestShutdown() {
	d.quitOnce.Do(func() {
		close(d.done)
	})
}

// setupWebServer initializes the web server and routes
func (d *ConsoleDaemon) setupWebServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// Serve static files
	router.Static("/static", "./web/static")
	router.GET("/", d.handleHome)

	// API routes
	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/state", d.handleGetState)
		api.POST("/select/:channel", d.handleSelect)
		api.POST("/gain/:channel", d.handleSetGain)
		api.POST("/mute/:channel", d.handleSetMute)
		api.GET("/devices", d.handleGetDevices)
		api.GET("/transport", d.handleGetTransport)
		api.GET("/transport/attempts", d.handleGetAttempts)
		api.POST("/record", d.handleRecord)
		api.GET("/recordings", d.handleGetRecordings)
		api.GET("/config", d.handleGetConfig)
		api.POST("/config", d.handleSaveConfig)
	}

	// Real-time VU meters
	router.GET("/ws/vu", d.handleVUWebSocket)

	addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
	d.webServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return nil
}
