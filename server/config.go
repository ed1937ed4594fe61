package server

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stub-rpc/codec"
	"stub-rpc/registry"
	"stub-rpc/transport"
)

type Config struct {
	Codec        codec.CodecType // 编解码类型，客户端必须一致
	ReadTimeout  time.Duration   // 帧内单个值的读超时
	WriteTimeout time.Duration
	IdleTimeout  time.Duration // 两帧之间的空闲超时，0 表示不限
	Compression  bool          // snappy 压缩，客户端必须一致
	BufferSize   int

	HandlerTimeout time.Duration // 方法调用超时，0 表示不限
	RateLimit      float64       // 每秒调用数，0 表示不限流
	RateBurst      int
	StrictRouting  bool // 未知服务/方法时关闭连接

	AdvertiseAddr string            // 注册到 registry 的地址，必须可路由
	Registry      registry.Registry // nil 表示不做服务注册
	RegistryTTL   int64             // 秒

	Logger          logrus.FieldLogger
	ShutdownTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Codec:           codec.CodecTypeBinary,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		BufferSize:      transport.DefaultBufferSize,
		RateBurst:       1,
		RegistryTTL:     10,
		Logger:          logrus.StandardLogger(),
		ShutdownTimeout: 5 * time.Second,
	}
}

func (c *Config) check() error {
	if c.Registry != nil && c.AdvertiseAddr == "" {
		return errors.New("server: Registry set without AdvertiseAddr")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errors.New("server: negative rate limit")
	}
	if c.RegistryTTL <= 0 {
		c.RegistryTTL = 10
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return nil
}

// StreamOptions are the transport options both ends must share.
func (c *Config) StreamOptions() []transport.Option {
	return []transport.Option{
		transport.WithCodec(codec.GetCodec(c.Codec)),
		transport.WithReadTimeout(c.ReadTimeout),
		transport.WithWriteTimeout(c.WriteTimeout),
		transport.WithIdleTimeout(c.IdleTimeout),
		transport.WithCompression(c.Compression),
		transport.WithBufferSize(c.BufferSize),
	}
}
