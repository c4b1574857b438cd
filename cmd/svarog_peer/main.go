// Command svarog_peer runs one peer process: the per-member orchestrator
// that a ceremony driver calls to run keygen, keygen-from-mnemonic, sign,
// and reshare operations. Process bootstrap wiring around pkg/peer/service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
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
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/peer/metrics"
	"github.com/taiyi-research-institute/svarog-service-flat/pkg/peer/service"
	rpcpeer "github.com/taiyi-research-institute/svarog-service-flat/rpc/peer"
)

const defaultPort = 2001

var (
	host     string
	port     int
	useHTTPS bool

	rootCmd = &cobra.Command{
		Use:   "svarog_peer",
		Short: "svarog peer orchestrator",
		Long:  `Runs keygen, keygen-from-mnemonic, sign, and reshare ceremonies on behalf of one committee member.`,
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
		fmt.Fprintf(os.Stderr, "svarog_peer: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	httpClient := &http.Client{}
	if useHTTPS {
		httpClient.Transport = clientTLSTransport()
	}

	svc := service.New(httpClient)
	path, handler := rpcpeer.NewHandler(svc, codec.WithCBOR())

	checker := grpchealth.NewStaticChecker(rpcpeer.ServiceName)
	healthPath, healthHandler := grpchealth.NewHandler(checker)

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	mux.Handle(healthPath, healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	srv := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("peer orchestrator listening", zap.String("addr", addr), zap.Bool("https", useHTTPS))
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

// clientTLSTransport builds the RoundTripper the peer uses to dial other
// TLS-enabled peers and session managers, trusting the CA bundle at
// tls/fullchain.pem.
func clientTLSTransport() http.RoundTripper {
	pool, err := certPoolFromFile("tls/fullchain.pem")
	if err != nil {
		// Fall back to the system trust store rather than failing to start;
		// an operator running without a custom CA still wants plain TLS to
		// the public internet to work.
		return http.DefaultTransport
	}
	return &http2.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool},
	}
}

func certPoolFromFile(path string) (*x509.CertPool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(raw) {
		return nil, fmt.Errorf("no certificates parsed from %s", path)
	}
	return pool, nil
}
