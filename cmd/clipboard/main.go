package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/astromechza/shared-clipboard/pkg/clipboard"
	"github.com/astromechza/shared-clipboard/pkg/discovery"
)

type options struct {
	port        int
	host        string
	maxUpload   string
	maxMessage  string
	mdns        bool
	logLevel    string
	logJSON     bool
	shutdownFor time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "clipboard",
		Short:         "A shared clipboard for every browser on the network",
		Long:          "Serves one shared text buffer and one shared file to every connected browser and keeps them in sync.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mainInner(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.port, "port", "p", 3000, "the port to listen on")
	f.StringVar(&opts.host, "host", "", "the address to listen on, empty for all interfaces")
	f.StringVar(&opts.maxUpload, "max-upload", "1GiB", "the largest file that can be uploaded")
	f.StringVar(&opts.maxMessage, "max-message", "100MiB", "the largest channel message accepted from a client")
	f.BoolVar(&opts.mdns, "mdns", false, "advertise the clipboard on the local network with mDNS")
	f.StringVar(&opts.logLevel, "log-level", "info", "one of debug, info, warn, error")
	f.BoolVar(&opts.logJSON, "log-json", false, "log in JSON instead of text")
	f.DurationVar(&opts.shutdownFor, "shutdown-timeout", 5*time.Second, "how long to wait for requests to finish on shutdown")
	return cmd
}

func setupLogging(opts *options) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.logJSON {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)))
	}
	return nil
}

func parseSize(name, value string) (int64, error) {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s: %w", name, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("invalid --%s: must be greater than zero", name)
	}
	return int64(n), nil
}

func mainInner(ctx context.Context, opts *options) error {
	if err := setupLogging(opts); err != nil {
		return err
	}
	if opts.port < 0 || opts.port > 65535 {
		return fmt.Errorf("invalid --port %d", opts.port)
	}
	maxUpload, err := parseSize("max-upload", opts.maxUpload)
	if err != nil {
		return err
	}
	maxMessage, err := parseSize("max-message", opts.maxMessage)
	if err != nil {
		return err
	}

	s := clipboard.NewServer(clipboard.NewStore(), clipboard.Config{
		MaxUploadSize:  maxUpload,
		MaxMessageSize: maxMessage,
	})

	listener, err := net.Listen("tcp", net.JoinHostPort(opts.host, strconv.Itoa(opts.port)))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	fmt.Println(bannerURL(opts.host, port))
	slog.Info("listening", "addr", listener.Addr().String(), "max-upload", humanize.IBytes(uint64(maxUpload)))

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := new(sync.WaitGroup)

	httpServer := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	if opts.mdns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := discovery.Advertise(ctx, port); err != nil {
				slog.Error("failed to advertise", "err", err)
			}
		}()
	}

	// signal.Notify drops signals it cannot deliver, so the channel needs room for one
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(exit)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), opts.shutdownFor)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down cleanly", "err", err)
		_ = httpServer.Close()
	}
	s.Close()

	wg.Wait()
	return nil
}

// bannerURL is the address people on the network can open. A wildcard host is replaced by the
// machine's LAN address.
func bannerURL(host string, port int) string {
	switch strings.Trim(host, "[]") {
	case "", "0.0.0.0", "::":
		host = discovery.LocalIP()
	}
	return "http://" + net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
}
