package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/signproxy"
	"github.com/aweris/signproxy/internal/certstore"
	"github.com/aweris/signproxy/internal/compression"
	"github.com/aweris/signproxy/internal/server"
	"github.com/aweris/signproxy/internal/signtool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signing proxy",
	Long:  "Locate signtool and the signing certificate, then serve /exists and /sign.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (default: 0.0.0.0:3000)")
	serveCmd.Flags().String("signtool", "", "path to signtool.exe")
	serveCmd.Flags().String("subject", "", "certificate subject filter")

	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("signtool", serveCmd.Flags().Lookup("signtool"))
	viper.BindPFlag("subject", serveCmd.Flags().Lookup("subject"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) (err error) {
	log := newLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tool, err := newSigntool(ctx, log)
	if err != nil {
		return err
	}

	svc, err := openService(signproxy.WithSigner(tool))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	compressor := compression.NewCompressor(viper.GetInt("compression.level"), viper.GetBool("compression.enabled"))
	srv := server.New(svc, compressor, log)

	addr := viper.GetString("listen")
	announce(log, addr)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(addr) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newSigntool resolves the signer executable and the one certificate it signs
// with. Any ambiguity stops the proxy before it binds its port.
func newSigntool(ctx context.Context, log zerolog.Logger) (*signtool.Tool, error) {
	path, err := signtool.Locate(afero.NewOsFs(), viper.GetString("signtool"))
	if err != nil {
		return nil, err
	}

	cert := signtool.Certificate{
		Thumbprint:     viper.GetString("certificate.thumbprint"),
		Store:          viper.GetString("certificate.store"),
		IsLocalMachine: viper.GetBool("certificate.local_machine"),
	}
	if cert.Thumbprint == "" {
		certs, err := certstore.Find(ctx, signtool.ExecRunner{}, viper.GetString("subject"))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", signproxy.ErrConfiguration, err)
		}
		if cert, err = certstore.Select(certs); err != nil {
			return nil, err
		}
	}

	log.Info().Str("signtool", path).Str("subject", cert.Subject).Str("thumbprint", cert.Thumbprint).
		Str("store", cert.Store).Bool("local_machine", cert.IsLocalMachine).Msg("signer ready")

	return &signtool.Tool{
		Path:         path,
		Cert:         cert,
		TimestampURL: viper.GetString("timestamp_url"),
		Timeout:      viper.GetDuration("sign_timeout"),
		Runner:       signtool.ExecRunner{},
	}, nil
}

// announce logs one URL per external IPv4 address when listening on all
// interfaces.
func announce(log zerolog.Logger, addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || (host != "" && host != "0.0.0.0") {
		return
	}
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return
	}
	for _, a := range ifaces {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		log.Info().Msgf("serving http://%s", net.JoinHostPort(ipnet.IP.String(), port))
	}
}
