package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/HMasataka/labelserve/internal/browser"
	"github.com/HMasataka/labelserve/internal/config"
	"github.com/HMasataka/labelserve/internal/livereload"
	"github.com/HMasataka/labelserve/internal/server"
)

// App wires the file server, the browser launcher and live reload together
// for one run of the program.
type App struct {
	config  config.Config
	opener  browser.Opener
	out     io.Writer
	logger  *slog.Logger
	server  *server.Server
	hub     *livereload.Hub
	watcher *livereload.Watcher
	ready   chan struct{}
}

// New builds an App serving cfg.Root on cfg.Addr. The config file itself is
// never served.
func New(cfg config.Config, opener browser.Opener, out io.Writer, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}

	options := server.DefaultOptions(cfg.Root)
	options.Addr = cfg.Addr()
	options.Hidden = []string{"/" + config.FileName}
	srv := server.New(options, logger)

	a := &App{
		config: cfg,
		opener: opener,
		out:    out,
		logger: logger,
		server: srv,
		ready:  make(chan struct{}),
	}

	if cfg.LiveReload.Enabled {
		hub := livereload.NewHub(livereload.DefaultClientOptions(), logger)
		srv.Handle(livereload.SocketPath, hub)
		srv.Handle(livereload.ScriptPath, livereload.ScriptHandler())
		srv.RegisterOnShutdown(hub.Close)
		a.hub = hub

		a.watcher = livereload.NewWatcher(cfg.Root, livereload.WatcherOptions{
			Debounce: cfg.LiveReload.Debounce(),
		}, func(paths []string) {
			if _, err := hub.Broadcast(paths); err != nil {
				logger.Warn("failed to broadcast reload", slog.String("error", err.Error()))
			}
		}, logger)
	}

	return a
}

// Ready is closed once the server is listening.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Addr is the bound address; valid after Ready.
func (a *App) Addr() net.Addr {
	return a.server.Addr()
}

// Run serves until ctx is cancelled, then stops the server. A bind failure
// is returned as *server.BindError before anything is printed. Requests
// still running when the shutdown timeout expires are abandoned and do not
// make Run fail.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.server.Start(ctx); err != nil {
		if a.hub != nil {
			a.hub.Close()
		}
		return err
	}

	urls := a.config
	if tcp, ok := a.server.Addr().(*net.TCPAddr); ok {
		urls.Port = tcp.Port
	}

	fmt.Fprintf(a.out, "Serving at %s\n", urls.BaseURL())
	fmt.Fprintf(a.out, "Open %s in your browser\n", urls.EntryURL())
	if a.watcher != nil {
		fmt.Fprintf(a.out, "Live reload enabled: add <script src=%q></script> to your pages\n", livereload.ScriptPath)
	}
	fmt.Fprintln(a.out, "Press Ctrl+C to stop the server")
	close(a.ready)

	if a.config.OpenBrowser {
		go a.openBrowser(ctx, urls.EntryURL())
	}

	if a.watcher != nil {
		go func() {
			if err := a.watcher.Run(ctx); err != nil {
				a.logger.Warn("live reload watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-a.server.Done():
		if ok {
			serveErr = err
		}
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeoutDuration())
	defer stopCancel()

	if err := a.server.Stop(stopCtx); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "\nServer stopped.")

	return serveErr
}

// openBrowser never fails the run; the URL is already on the console. The
// launcher may not return until the browser does, so it runs on its own.
func (a *App) openBrowser(ctx context.Context, url string) {
	if err := a.opener.Open(context.WithoutCancel(ctx), url); err != nil {
		a.logger.Debug("could not open browser", slog.String("url", url), slog.String("error", err.Error()))
	}
}
