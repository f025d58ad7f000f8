// Command framecrypt-signal-relay runs a minimal websocket hub that fans
// out key-broadcast envelopes between connected peers, demonstrating the
// signaling package outside of a full conferencing server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hermannm.dev/devlog"

	fcversion "github.com/meshcall/framecrypt/internal/version"
	"github.com/meshcall/framecrypt/realtimeconn"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	logLevel := new(slog.LevelVar)
	slog.SetDefault(slog.New(devlog.NewHandler(stderr, &devlog.Options{Level: logLevel})))

	showVersion := false
	listen := "127.0.0.1:0"
	readLimit := int64(1 << 16)

	fs := flag.NewFlagSet("framecrypt-signal-relay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&listen, "listen", listen, "address to listen on")
	fs.Int64Var(&readLimit, "max-envelope-bytes", readLimit, "maximum accepted websocket message size")
	fs.Func("log-level", "log level: debug, info, warn, error (default info)", func(s string) error {
		return logLevel.UnmarshalText([]byte(s))
	})
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		fmt.Fprintln(stdout, fcversion.String(version, commit, date))
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtimeconn.NewHub(readLimit)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		slog.Error("listen failed", "error", err)
		return 1
	}
	defer ln.Close()

	httpSrv := &http.Server{
		Handler:           hub,
		ReadHeaderTimeout: 10 * time.Second,
	}

	addr := ln.Addr().String()
	fmt.Fprintf(stdout, `{"status":"ready","version":%q,"commit":%q,"date":%q,"listen":%q,"ws_url":"ws://%s/relay"}`+"\n",
		version, commit, date, addr, addr)

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		hub.CloseAll()
		return 0
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return 0
		}
		slog.Error("server error", "error", err)
		return 1
	}
}
