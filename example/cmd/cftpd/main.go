// Command cftpd is a runnable cftp daemon: a TOML-configured FTP server
// storing files on the local filesystem via drivers/afero and accepting
// connections via drivers/tcp.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	aferofs "github.com/spf13/afero"

	golog "github.com/fclairamb/go-log"

	"github.com/nullptr-oss/cftp"
	cftpafero "github.com/nullptr-oss/cftp/drivers/afero"
	"github.com/nullptr-oss/cftp/drivers/tcp"
	"github.com/nullptr-oss/cftp/log/gokit"
)

func main() {
	var confFile, dataDir string

	flag.StringVar(&confFile, "conf", "cftpd.toml", "Configuration file")
	flag.StringVar(&dataDir, "data", "data", "Data directory")
	flag.Parse()

	logger := gokit.NewGKLoggerStdout()

	if _, err := os.Stat(confFile); os.IsNotExist(err) {
		logger.Info("no config file found, creating a default one", "path", confFile)

		if err := writeDefaultConfig(confFile); err != nil {
			logger.Error("could not create default config", "err", err)
			os.Exit(1)
		}
	}

	cfg, err := loadConfig(confFile)
	if err != nil {
		logger.Error("could not load config", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Error("could not create data directory", "err", err)
		os.Exit(1)
	}

	accounts := make(map[string]cftpafero.Account, len(cfg.Users))
	for _, u := range cfg.Users {
		accounts[u.User] = cftpafero.Account{Password: u.Pass, Dir: u.Dir}
	}

	var passiveOpts []tcp.Option
	if cfg.Server.PublicHost != "" {
		passiveOpts = append(passiveOpts, tcp.WithPublicIP(cfg.Server.PublicHost))
	}

	if r := cfg.Server.DataPortRange.toPortRange(); r != nil {
		passiveOpts = append(passiveOpts, tcp.WithPortRange(*r))
	}

	passiveFactory := tcp.NewFactory(passiveOpts...)

	root := aferofs.NewBasePathFs(aferofs.NewOsFs(), dataDir)
	driver := cftpafero.NewDriver(root, accounts, passiveFactory, cftp.DefaultWelcome)

	cert, err := generateSelfSignedCert()
	if err != nil {
		logger.Error("could not generate TLS certificate", "err", err)
		os.Exit(1)
	}

	tlsPolicy := &cftp.TLSPolicy{
		Config:         &tls.Config{Certificates: []tls.Certificate{*cert}},
		AllowPlaintext: true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel, logger)

	ln, err := tcp.NewListener(ctx, cfg.Server.ListenAddr)
	if err != nil {
		logger.Error("could not bind listener", "err", err, "addr", cfg.Server.ListenAddr)
		os.Exit(1)
	}

	logger.Info("cftpd listening", "addr", ln.Addr().String())

	idleTimeout := time.Duration(cfg.Server.IdleTimeout) * time.Second

	err = ln.Serve(ctx, func(conn net.Conn) {
		serveConn(ctx, conn, driver, tlsPolicy, idleTimeout, logger)
	})
	if err != nil {
		logger.Error("listener stopped", "err", err)
		os.Exit(1)
	}
}

func serveConn(ctx context.Context, conn net.Conn, driver *cftpafero.Driver, tlsPolicy *cftp.TLSPolicy, idleTimeout time.Duration, logger golog.Logger) {
	handler := driver.NewSession(conn.LocalAddr())

	sess := cftp.NewSession[net.Conn](conn, handler, tlsPolicy,
		cftp.WithIdleTimeout[net.Conn](idleTimeout),
	)

	if err := sess.Run(ctx); err != nil {
		logger.Error("session ended with error", "err", err, "remote", conn.RemoteAddr())
	}
}

func handleSignals(cancel context.CancelFunc, logger golog.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(ch)

	sig := <-ch
	logger.Info("received shutdown signal", "signal", sig.String())
	cancel()
}
