// Command tunnelgated runs the tunnelgate data plane: the SSH server, the
// subdomain proxy, and the internal management surface, all sharing one
// in-memory session registry.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tunnelgate/tunnelgate/internal/config"
	"github.com/tunnelgate/tunnelgate/internal/deviceflow"
	"github.com/tunnelgate/tunnelgate/internal/hostkey"
	"github.com/tunnelgate/tunnelgate/internal/logging"
	"github.com/tunnelgate/tunnelgate/internal/mgmt"
	"github.com/tunnelgate/tunnelgate/internal/proxy"
	"github.com/tunnelgate/tunnelgate/internal/registry"
	"github.com/tunnelgate/tunnelgate/internal/sshserver"
)

// sweepSchedule runs the registry's cleanup once a minute: frequent enough
// that a released subdomain or an expired activation code doesn't linger
// much past its deadline.
const sweepSchedule = "@every 1m"

const shutdownTimeout = 10 * time.Second

func main() {
	config.Load()
	logging.Init()

	hostKey, err := hostkey.Load(config.Cfg.DataDir, config.Cfg.DevMode)
	if err != nil {
		log.Fatalf("host key: %v", err)
	}

	df := deviceflow.New(config.Cfg.APIBaseURL, config.Cfg.InternalAPISecret)
	reg := registry.InitGlobal(df)

	c := cron.New()
	if _, err := reg.StartSweeper(c, sweepSchedule); err != nil {
		log.Fatalf("schedule registry sweep: %v", err)
	}
	c.Start()
	defer c.Stop()

	sshAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(config.Cfg.SSHPort))
	sshSrv, err := sshserver.Listen(sshAddr, hostKey, reg, df, config.Cfg.APIBaseURL, config.Cfg.HTTPPort)
	if err != nil {
		log.Fatalf("ssh listen: %v", err)
	}
	defer sshSrv.Close()

	proxyAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(config.Cfg.HTTPPort))
	proxySrv, err := proxy.Listen(reg, proxyAddr)
	if err != nil {
		log.Fatalf("proxy listen: %v", err)
	}
	defer proxySrv.Close()

	mgmtAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(config.Cfg.MgmtPort))
	mgmtSrv := &http.Server{
		Addr:    mgmtAddr,
		Handler: mgmt.New(reg),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("ssh server listening on %s", sshAddr)
		return sshSrv.Serve(gctx)
	})
	g.Go(func() error {
		log.Printf("proxy listening on %s", proxyAddr)
		return proxySrv.Serve(gctx)
	})
	g.Go(func() error {
		log.Printf("management surface listening on %s", mgmtAddr)
		err := mgmtSrv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return mgmtSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("fatal error: %v", err)
	}
	log.Println("tunnelgated: shut down")
}
