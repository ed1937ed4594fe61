// Command hello-server hosts examples/hello.HelloService.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"stub-rpc/codec"
	"stub-rpc/examples/hello"
	"stub-rpc/registry"
	"stub-rpc/server"
)

func serveCommand(c *cli.Context) error {
	log := logrus.StandardLogger()
	if c.Bool("debug") {
		log.SetLevel(logrus.DebugLevel)
	}

	codecType, err := codec.ParseCodecType(c.String("codec"))
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	cfg := server.DefaultConfig()
	cfg.Codec = codecType
	cfg.Compression = c.Bool("compress")
	cfg.StrictRouting = c.Bool("strict")
	cfg.IdleTimeout = c.Duration("idle-timeout")
	cfg.HandlerTimeout = c.Duration("handler-timeout")
	cfg.RateLimit = c.Float64("rate")
	cfg.RateBurst = c.Int("burst")
	cfg.Logger = log

	if endpoints := c.String("etcd"); endpoints != "" {
		zl := zap.NewNop()
		if c.Bool("debug") {
			if zl, err = zap.NewDevelopment(); err != nil {
				return cli.NewExitError(err.Error(), 1)
			}
		}
		reg, err := registry.NewEtcdRegistryWithConfig(registry.EtcdConfig{
			Endpoints: strings.Split(endpoints, ","),
			ZapLogger: zl,
			Logger:    log,
		})
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		defer reg.Close()
		cfg.Registry = reg
		cfg.AdvertiseAddr = c.String("advertise")
		if cfg.AdvertiseAddr == "" {
			cfg.AdvertiseAddr = c.String("addr")
		}
	}

	svr := server.NewServer(cfg)
	if err := hello.RegisterHelloService(svr, hello.Service{}); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := svr.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()

	if err := svr.Serve("tcp", c.String("addr")); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "hello-server"
	app.Usage = "serve HelloService"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "addr, a",
			Value: "127.0.0.1:3000",
			Usage: "listen address",
		},
		cli.StringFlag{
			Name:  "codec",
			Value: "binary",
			Usage: "payload codec: binary or msgpack",
		},
		cli.BoolFlag{
			Name:  "compress",
			Usage: "snappy-compress the stream",
		},
		cli.BoolFlag{
			Name:  "strict",
			Usage: "close connections that name an unknown service or method",
		},
		cli.DurationFlag{
			Name:  "idle-timeout",
			Usage: "close connections idle between calls for this long",
		},
		cli.DurationFlag{
			Name:  "handler-timeout",
			Usage: "fail calls running longer than this",
		},
		cli.Float64Flag{
			Name:  "rate",
			Usage: "calls per second, 0 for unlimited",
		},
		cli.IntFlag{
			Name:  "burst",
			Value: 1,
			Usage: "rate limiter burst",
		},
		cli.StringFlag{
			Name:   "etcd",
			Usage:  "comma separated etcd endpoints to advertise on",
			EnvVar: "STUBRPC_ETCD_ENDPOINTS",
		},
		cli.StringFlag{
			Name:  "advertise",
			Usage: "address advertised in etcd (default -addr)",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "debug logging",
		},
	}
	app.Action = serveCommand
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
