package client

import (
	"time"

	"go.uber.org/zap"

	"workerproxy/codec"
	"workerproxy/loader"
	"workerproxy/transport"
)

// DefaultLoadTimeout bounds how long CreateProxy waits for a worker to become ready.
const DefaultLoadTimeout = 5 * time.Second

type options struct {
	loadTimeout time.Duration
	loader      loader.Loader
	codec       codec.CodecType
	heartbeat   time.Duration
	logger      *zap.Logger
}

func defaultOptions() options {
	return options{
		loadTimeout: DefaultLoadTimeout,
		loader:      loader.Default,
		codec:       codec.CodecTypeJSON,
		heartbeat:   transport.DefaultHeartbeat,
	}
}

// Option configures CreateProxy.
type Option func(*options)

// WithLoadTimeout sets the time a worker has to report ready.
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) {
		o.loadTimeout = d
	}
}

// WithLoader sets how the worker at path is started. Defaults to loader.Default.
func WithLoader(l loader.Loader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// WithCodec sets the codec of requests. The worker answers in the same codec.
func WithCodec(ct codec.CodecType) Option {
	return func(o *options) {
		o.codec = ct
	}
}

// WithHeartbeat sets the keep-alive interval of the channel. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) {
		o.heartbeat = d
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
