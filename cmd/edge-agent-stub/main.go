// Command edge-agent-stub serves the edge agent RPC service on a Unix socket
// so the wind farm service can run without real inference hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/okian/windfarm/internal/adapters/agent"
	"github.com/okian/windfarm/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	socket := flag.String("socket", envOr("WINDFARM_AGENT_SOCKET", "/tmp/edge-agent.sock"), "unix socket to listen on")
	alpha := flag.Float64("smoothing", 0.5, "weight of the newest row when smoothing a window")
	checkPaths := flag.Bool("check-paths", false, "fail model loads whose path does not exist")
	format := flag.String("log-format", envOr("WINDFARM_LOG_FORMAT", "text"), "text or json")
	flag.Parse()

	if err := logger.Init(logger.WithFormat(*format)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get().Named("edge-agent-stub")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.Remove(*socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error(ctx, "removing stale socket failed", logger.String("socket", *socket), logger.Error(err))
		os.Exit(1)
	}
	lis, err := net.Listen("unix", *socket)
	if err != nil {
		log.Error(ctx, "listen failed", logger.String("socket", *socket), logger.Error(err))
		os.Exit(1)
	}

	srv := agent.NewServer(agent.WithSmoothing(*alpha), agent.WithPathCheck(*checkPaths))
	go func() {
		<-ctx.Done()
		log.Info(context.Background(), "stopping stub agent")
		srv.Stop()
	}()

	if err := srv.Serve(lis); err != nil {
		log.Error(ctx, "serve failed", logger.Error(err))
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
