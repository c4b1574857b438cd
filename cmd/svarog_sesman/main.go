// Command svarog_sesman runs the session manager: the central relay every
// peer process in a ceremony dials to exchange point-to-point protocol
// messages. Process bootstrap wiring around pkg/sesman/service.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/taiyi-research-institute/svarog-service-flat/internal/codec"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/errs"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sesman/metrics"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sesman/service"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/sesman/store"
	rpcsesman "github.com/taiyi-research-institute/svarog-service-flat/rpc/sesman"
)

const (
	defaultPort = 2000

	// sessionLifespan and evictionInterval bound how long an idle session's
	// messages linger in the store before the background sweep reclaims
	// them.
	sessionLifespan  = 24 * time.Hour
	evictionInterval = time.Minute
)

var (
	host     string
	port     int
	useHTTPS bool

	rootCmd = &cobra.Command{
		Use:   "svarog_sesman",
		Short: "svarog session manager",
		Long:  `Relays opaque point-to-point protocol messages between peers of a threshold signature ceremony.`,
		RunE:  run,
	}
)

func init() {
	// -h belongs to --host here; registering --help without a shorthand
	// first keeps cobra from claiming -h for it.
	rootCmd.Flags().Bool("help", false, "show help")
	rootCmd.Flags().StringVarP(&host, "host", "h", "0.0.0.0", "address to listen on")
	rootCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "port to listen on")
	rootCmd.Flags().BoolVar(&useHTTPS, "https", false, "serve TLS using tls/cert.pem and tls/privkey.pem")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "svarog_sesman: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	s := store.New()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go store.RunEviction(ctx, s, sessionLifespan, evictionInterval)

	svc := service.New(s)
	path, handler := rpcsesman.NewHandler(svc, codec.WithCBOR())

	checker := grpchealth.NewStaticChecker(rpcsesman.ServiceName)
	healthPath, healthHandler := grpchealth.NewHandler(checker)

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	mux.Handle(healthPath, healthHandler)
	mux.Handle("/metrics", promHandler())

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("session manager listening", zap.String("addr", addr), zap.Bool("https", useHTTPS))
		if useHTTPS {
			cert, cerr := tls.LoadX509KeyPair("tls/cert.pem", "tls/privkey.pem")
			if cerr != nil {
				errCh <- fmt.Errorf("load tls materials: %w", cerr)
				return
			}
			srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errs.Wrap(errs.GrpcServerIsDown, "listener terminated", err)
		}
		return nil
	}
}

func promHandler() http.Handler {
	return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
}
