package client

import (
	"log/slog"
	"net/http"
	"time"

	requeuest "github.com/famedly/requeuest"
	"github.com/famedly/requeuest/backoff"
	"github.com/famedly/requeuest/middleware"
	"github.com/famedly/requeuest/request"
	"github.com/famedly/requeuest/worker"
)

// settings collects the dependencies options may replace before the
// pool is assembled.
type settings struct {
	executor       request.Executor
	policy         backoff.Policy
	middlewares    []middleware.Middleware
	channelManager worker.ChannelManager
}

func defaultSettings() *settings {
	return &settings{
		executor: request.NewHTTPExecutor(nil),
		policy:   backoff.DefaultPolicy(),
	}
}

// Option configures a Client.
type Option func(*Client, *settings)

// WithConfig replaces the full worker configuration.
func WithConfig(cfg requeuest.Config) Option {
	return func(c *Client, _ *settings) { c.config = cfg }
}

// WithChannels restricts the embedded worker pool to the given
// channels. Jobs may still be spawned onto any channel.
func WithChannels(channels ...string) Option {
	return func(c *Client, _ *settings) { c.config.Channels = channels }
}

// WithLogger sets the logger used by the client and its worker pool.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client, _ *settings) { c.logger = logger }
}

// WithHTTPClient sets the http.Client used for deliveries.
func WithHTTPClient(hc *http.Client) Option {
	return func(_ *Client, s *settings) { s.executor = request.NewHTTPExecutor(hc) }
}

// WithExecutor replaces the delivery transport entirely. Mostly useful
// in tests.
func WithExecutor(exec request.Executor) Option {
	return func(_ *Client, s *settings) { s.executor = exec }
}

// WithBackoff sets the retry policy applied after failed attempts.
func WithBackoff(policy backoff.Policy) Option {
	return func(_ *Client, s *settings) { s.policy = policy }
}

// WithMiddleware appends delivery middleware, applied in the given
// order around the HTTP send.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(_ *Client, s *settings) { s.middlewares = append(s.middlewares, mws...) }
}

// WithChannelManager sets the per-channel rate and concurrency
// limiter.
func WithChannelManager(m worker.ChannelManager) Option {
	return func(_ *Client, s *settings) { s.channelManager = m }
}

// spawnSettings holds per-enqueue overrides.
type spawnSettings struct {
	ordered   bool
	delay     time.Duration
	notBefore time.Time
}

// SpawnOption configures a single enqueue.
type SpawnOption func(*spawnSettings)

// Unordered exempts the job from its channel's ordering: it may be
// delivered concurrently with, and out of order against, other jobs on
// the same channel.
func Unordered() SpawnOption {
	return func(so *spawnSettings) { so.ordered = false }
}

// Delay makes the job eligible no earlier than d from now.
func Delay(d time.Duration) SpawnOption {
	return func(so *spawnSettings) { so.delay = d }
}

// At makes the job eligible no earlier than t. Overrides Delay.
func At(t time.Time) SpawnOption {
	return func(so *spawnSettings) { so.notBefore = t }
}
