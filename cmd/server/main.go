//go:build linux

// Command server arranca el reactor HTTP: parsea la configuración,
// levanta el logger asíncrono, el registro de métricas, el pool de
// conexiones a la base de datos y el pool de workers, y finalmente el
// bucle del reactor.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"webreactor/internal/auth"
	"webreactor/internal/config"
	"webreactor/internal/dbpool"
	"webreactor/internal/logging"
	"webreactor/internal/metrics"
	"webreactor/internal/reactor"
	"webreactor/internal/workerpool"
)

func main() {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "sirve archivos estáticos y autenticación sobre un reactor epoll de un solo hilo",
		RunE:  run,
	}
	config.BindFlags(cmd)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	reg := metrics.New()
	stopMetrics := serveMetrics(cfg.MetricsAddr, reg, log)
	defer stopMetrics()

	openCtx, cancelOpen := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelOpen()
	db, err := dbpool.Open(openCtx, dbpool.Options{
		Host: cfg.DBHost, Port: cfg.DBPort, User: cfg.DBUser,
		Password: cfg.DBPassword, DBName: cfg.DBName, Size: cfg.DBPoolSize,
	})
	if err != nil {
		log.Errorf("dbpool: %v", err)
		return err
	}
	defer db.CloseAll()

	workers := workerpool.New(cfg.WorkerThreads, func(r any) {
		log.Errorf("worker panic recovered: %v", r)
	})
	defer workers.Close()

	reportDBGauges := func() {
		reg.DBAvailable.Set(float64(db.Available()))
		reg.DBInUse.Set(float64(db.Size() - db.Available()))
	}
	reportDBGauges()

	verify := func(ctx context.Context, username, password string, isLogin bool) (bool, error) {
		var ok bool
		err := db.WithConn(ctx, func(c *sql.Conn) error {
			reportDBGauges()
			var verr error
			ok, verr = auth.Verify(ctx, c, username, password, isLogin)
			return verr
		})
		reportDBGauges()
		if errors.Is(err, auth.ErrExists) {
			// registrar un usuario que ya existe no es un error de
			// transporte ni de BD: es un false corriente que debe
			// resolver a /error.html
			log.Infof("register: user %q already exists", username)
			return false, nil
		}
		return ok, err
	}

	srv, err := reactor.Listen(reactor.Options{
		Port:         cfg.Port,
		ConnEdge:     cfg.TriggerMode == config.TriggerConnEdge || cfg.TriggerMode == config.TriggerBothEdge,
		ListenEdge:   cfg.TriggerMode == config.TriggerListenEdge || cfg.TriggerMode == config.TriggerBothEdge,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutMS) * time.Millisecond,
		Linger:       cfg.Linger,
		MaxConns:     cfg.MaxConns,
		ResourceRoot: cfg.ResourceRoot,
	}, workers, verify, log, reg)
	if err != nil {
		log.Errorf("reactor: listen: %v", err)
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Infof("shutting down")
		srv.Shutdown()
	}()

	log.Infof("reactor listening on :%d (resource root %s)", srv.Port(), cfg.ResourceRoot)
	return srv.Run()
}

func newLogger(cfg config.Config) (logging.Logger, error) {
	if !cfg.LogOpen {
		return logging.Nop{}, nil
	}
	return logging.New(logging.Level(cfg.LogLevel), cfg.LogQueueSize)
}

// serveMetrics levanta un net/http.Server aparte para /metrics, igual
// de desacoplado del reactor que el log-writer lo está del hilo
// reactor principal.
func serveMetrics(addr string, reg *metrics.Registry, log logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.Reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("metrics server: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
