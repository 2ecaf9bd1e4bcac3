package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultBaseDelay    = 250 * time.Millisecond
	defaultMaxDelay     = 10 * time.Second
	defaultReadLimit    = 1 << 20
)

type WSClientOptions struct {
	URL          string
	ClientName   string
	HTTPClient   *http.Client
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Logger       logrus.FieldLogger
}

// WSClient speaks the bus protocol over a WebSocket connection to the host's
// local messaging endpoint.
type WSClient struct {
	url          string
	httpClient   *http.Client
	dialTimeout  time.Duration
	writeTimeout time.Duration
	baseDelay    time.Duration
	maxDelay     time.Duration
	logger       logrus.FieldLogger

	subscribers Subscribers

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewWSClient(opts WSClientOptions) (*WSClient, error) {
	rawURL := strings.TrimSpace(opts.URL)
	if rawURL == "" {
		return nil, fmt.Errorf("bus url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bus url: %w", err)
	}
	if name := strings.TrimSpace(opts.ClientName); name != "" {
		q := parsed.Query()
		q.Set("id", name)
		parsed.RawQuery = q.Encode()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WSClient{
		url:          parsed.String(),
		httpClient:   opts.HTTPClient,
		dialTimeout:  opts.DialTimeout,
		writeTimeout: opts.WriteTimeout,
		baseDelay:    opts.BaseDelay,
		maxDelay:     opts.MaxDelay,
		logger:       logger.WithField("component", "bus"),
	}, nil
}

// Connect dials the host once. Use Run to read messages and reconnect.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{HTTPClient: c.httpClient})
	if err != nil {
		return fmt.Errorf("dial message bus: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if c.closed {
			return ErrClientClosed
		}
		return nil
	}
	c.conn = conn
	c.logger.WithField("url", c.url).Info("message bus connected")
	return nil
}

// Run reads and dispatches inbound messages until ctx ends, redialing with
// capped exponential backoff whenever the connection drops.
func (c *WSClient) Run(ctx context.Context) error {
	failures := 0
	for {
		if err := c.Connect(ctx); err != nil {
			if errors.Is(err, ErrClientClosed) {
				return err
			}
			failures++
			c.logger.WithError(err).WithField("attempt", failures).Warn("message bus connect failed")
			if waitErr := waitWithContext(ctx, c.retryDelay(failures)); waitErr != nil {
				return waitErr
			}
			continue
		}
		failures = 0
		err := c.readLoop(ctx)
		c.dropConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.isClosed() {
			return ErrClientClosed
		}
		c.logger.WithError(err).Warn("message bus connection lost")
		failures++
		if waitErr := waitWithContext(ctx, c.retryDelay(failures)); waitErr != nil {
			return waitErr
		}
	}
}

func (c *WSClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Broadcast writes msg to the host. Failures are logged and returned; they
// never panic.
func (c *WSClient) Broadcast(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.logger.WithField("topic", msg.Topic).Debug("broadcast dropped, bus not connected")
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		c.logger.WithError(err).WithField("topic", msg.Topic).Warn("broadcast failed")
		return err
	}
	return nil
}

func (c *WSClient) Subscribe(handler Handler) func() {
	return c.subscribers.Add(handler)
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "client closing")
}

func (c *WSClient) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.logger.Debug("ignoring binary frame")
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.WithError(err).Warn("dropping malformed message")
			continue
		}
		c.subscribers.Dispatch(msg)
	}
}

func (c *WSClient) dropConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.CloseNow()
	}
}

func (c *WSClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WSClient) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
