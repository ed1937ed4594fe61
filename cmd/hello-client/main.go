// Command hello-client calls HelloService.Test once and prints the reply.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"stub-rpc/client"
	"stub-rpc/codec"
	"stub-rpc/examples/hello"
	"stub-rpc/loadbalance"
	"stub-rpc/registry"
	"stub-rpc/transport"
)

func dial(c *cli.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	endpoints := c.String("etcd")
	if endpoints == "" {
		return transport.Dial(ctx, "tcp", c.String("addr"), c.Duration("timeout"))
	}

	reg, err := registry.NewEtcdRegistry(strings.Split(endpoints, ","))
	if err != nil {
		return nil, err
	}
	defer reg.Close()
	bal, err := loadbalance.New(c.String("balancer"))
	if err != nil {
		return nil, err
	}
	r := client.NewResolver(reg, bal,
		client.WithDialTimeout(c.Duration("timeout")),
		client.WithDialRetry(c.Int("retries"), 100*time.Millisecond),
	)
	return r.DialKey(ctx, "HelloService", c.String("key"))
}

func callCommand(c *cli.Context) error {
	if c.Bool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}
	codecType, err := codec.ParseCodecType(c.String("codec"))
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	conn, err := dial(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Println("[cli] Connected to", conn.RemoteAddr())

	hc := hello.NewHelloServiceClient(conn,
		transport.WithCodec(codec.GetCodec(codecType)),
		transport.WithCompression(c.Bool("compress")),
		transport.WithReadTimeout(c.Duration("timeout")),
		transport.WithWriteTimeout(c.Duration("timeout")),
	)
	defer hc.Close()

	msg := c.String("message")
	reply, err := hc.Test(msg)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Printf("[cli] client.Test(%q) = %q\n", msg, reply)
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "hello-client"
	app.Usage = "call HelloService.Test"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "addr, a",
			Value: "127.0.0.1:3000",
			Usage: "server address, ignored with -etcd",
		},
		cli.StringFlag{
			Name:  "message, m",
			Value: "zkr",
			Usage: "argument sent to Test",
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
		cli.DurationFlag{
			Name:  "timeout",
			Value: 5 * time.Second,
			Usage: "dial and per-value read/write timeout",
		},
		cli.StringFlag{
			Name:   "etcd",
			Usage:  "comma separated etcd endpoints to discover the server on",
			EnvVar: "STUBRPC_ETCD_ENDPOINTS",
		},
		cli.StringFlag{
			Name:  "balancer",
			Value: "roundrobin",
			Usage: "roundrobin, weightedrandom or consistenthash",
		},
		cli.StringFlag{
			Name:  "key",
			Usage: "consistent hash key",
		},
		cli.IntFlag{
			Name:  "retries",
			Value: 2,
			Usage: "dial retries",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "debug logging",
		},
	}
	app.Action = callCommand
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
