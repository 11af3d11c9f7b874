package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/rigado/l2cap"
	"github.com/rigado/l2cap/core"
	"github.com/rigado/l2cap/hci"
)

func openTransport(c *cli.Context) (io.ReadWriteCloser, error) {
	switch {
	case c.Int("hci") >= 0:
		return hci.OpenSocket(c.Int("hci"))
	case c.String("tcp") != "":
		return hci.OpenTCP(c.String("tcp"), 2*time.Second)
	case c.String("uart") != "":
		return hci.OpenUART(c.String("uart"), c.Uint("baud"))
	default:
		return nil, errors.New("no transport: use --hci, --tcp or --uart")
	}
}

func cmdServe(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	l, err := l2cap.NewLogger(os.Stderr, cfg.LogFormat)
	if err != nil {
		return err
	}
	l2cap.SetLogger(l)
	if cfg.LogLevel != "" {
		if err := l2cap.SetLogLevel(cfg.LogLevel); err != nil {
			return err
		}
	}
	log := l2cap.GetLogger()

	rw, err := openTransport(c)
	if err != nil {
		return err
	}
	adapter := hci.NewAdapter(rw)
	defer adapter.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	stack, err := core.New(adapter, append(cfg.options(), l2cap.OptMetrics(reg))...)
	if err != nil {
		return err
	}
	adapter.SetUpper(stack)

	echo := newEchoService(stack)
	for _, svc := range cfg.Services {
		if err := stack.RegisterService("echo", echo, svc.PSM, svc.MTU); err != nil {
			return err
		}
		log.Infof("echo service on psm 0x%04x, mtu %v", svc.PSM, svc.MTU)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return adapter.Run(ctx) })
	if err := adapter.Init(); err != nil {
		return err
	}

	if addr := c.String("metrics"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		g.Go(func() error {
			log.Infof("metrics on %v", addr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	stack.CloseOwner("echo")
	if err == context.Canceled {
		return nil
	}
	return err
}
