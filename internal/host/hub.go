package host

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/eyeconictv/common-component/internal/analytics"
	"github.com/eyeconictv/common-component/internal/bus"
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

var errEmptyName = errors.New("client name is required")

type HubOptions struct {
	// QueueSize bounds each client's outbound queue. Messages beyond it are
	// dropped.
	QueueSize    int
	WriteTimeout time.Duration
	Logger       logrus.FieldLogger
}

// Hub is the development message bus. It answers client-list-request,
// records "log" rows, and relays every other message to all other clients.
type Hub struct {
	opts   HubOptions
	logger logrus.FieldLogger

	mu      sync.Mutex
	nextID  uint64
	clients map[uint64]*hubClient
	closed  bool
}

type hubClient struct {
	id      uint64
	name    string
	queue   chan bus.Message
	done    chan struct{}
	once    sync.Once
	deliver func(bus.Message) error
	stop    func()
}

func NewHub(opts HubOptions) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		opts:    opts,
		logger:  logger.WithField("component", "hub"),
		clients: map[uint64]*hubClient{},
	}
}

// Clients returns the distinct names of connected clients, sorted.
func (h *Hub) Clients() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clientNamesLocked()
}

func (h *Hub) clientNamesLocked() []string {
	seen := map[string]struct{}{}
	names := make([]string, 0, len(h.clients))
	for _, client := range h.clients {
		if _, ok := seen[client.name]; ok {
			continue
		}
		seen[client.name] = struct{}{}
		names = append(names, client.name)
	}
	sort.Strings(names)
	return names
}

// ServeHTTP upgrades the request to a WebSocket client named by the "id"
// query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("id"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "id query parameter is required", getCorrelationID(r))
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.WithError(err).WithField("client", name).Warn("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	client, err := h.register(name, func(msg bus.Message) error {
		writeCtx, cancelWrite := context.WithTimeout(ctx, h.opts.WriteTimeout)
		defer cancelWrite()
		return wsjson.Write(writeCtx, conn, msg)
	}, cancel)
	if err != nil {
		_ = conn.Close(websocket.StatusGoingAway, "hub closed")
		return
	}
	defer h.unregister(client)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				h.logger.WithError(err).WithField("client", name).Debug("client read ended")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var msg bus.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.WithError(err).WithField("client", name).Warn("dropping malformed message")
			continue
		}
		h.route(client, msg)
	}
}

// Connect attaches an in-process client. It satisfies bus.Bus.
func (h *Hub) Connect(name string) (*LocalClient, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errEmptyName
	}
	local := &LocalClient{hub: h}
	client, err := h.register(name, func(msg bus.Message) error {
		local.subscribers.Dispatch(msg)
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	local.client = client
	return local, nil
}

func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for id, client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *Hub) register(name string, deliver func(bus.Message) error, stop func()) (*hubClient, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, bus.ErrClientClosed
	}
	h.nextID++
	client := &hubClient{
		id:      h.nextID,
		name:    name,
		queue:   make(chan bus.Message, h.opts.QueueSize),
		done:    make(chan struct{}),
		deliver: deliver,
		stop:    stop,
	}
	h.clients[client.id] = client
	go client.run(h.logger.WithField("client", name))
	h.logger.WithField("client", name).Info("client connected")
	return client, nil
}

func (h *Hub) unregister(client *hubClient) {
	h.mu.Lock()
	_, ok := h.clients[client.id]
	delete(h.clients, client.id)
	h.mu.Unlock()
	client.close()
	if ok {
		h.logger.WithField("client", client.name).Info("client disconnected")
	}
}

func (h *Hub) route(from *hubClient, msg bus.Message) {
	switch {
	case msg.Is(bus.TopicClientListRequest):
		h.mu.Lock()
		names := h.clientNamesLocked()
		h.mu.Unlock()
		from.enqueue(bus.MustMessage(bus.TopicClientList, bus.ClientList{Clients: names}), h.logger)
	case msg.Is(bus.TopicLog):
		h.recordLog(from.name, msg)
	default:
		h.mu.Lock()
		defer h.mu.Unlock()
		for id, client := range h.clients {
			if id == from.id {
				continue
			}
			client.enqueue(msg, h.logger)
		}
	}
}

func (h *Hub) recordLog(from string, msg bus.Message) {
	var entry struct {
		Data analytics.Envelope `json:"data"`
	}
	if err := bus.DecodeValid(msg, &entry); err != nil {
		h.logger.WithError(err).WithField("client", from).Warn("dropping analytics row")
		return
	}
	h.logger.WithFields(logrus.Fields{
		"client":  from,
		"table":   entry.Data.Table,
		"event":   entry.Data.Data.Event,
		"details": entry.Data.Data.EventDetails,
	}).Info("analytics row")
}

func (c *hubClient) enqueue(msg bus.Message, logger logrus.FieldLogger) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.queue <- msg:
	default:
		logger.WithFields(logrus.Fields{"client": c.name, "topic": msg.Topic}).Warn("client queue full, dropping message")
	}
}

func (c *hubClient) run(logger logrus.FieldLogger) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.queue:
			if err := c.deliver(msg); err != nil {
				logger.WithError(err).WithField("topic", msg.Topic).Warn("delivery failed")
			}
		}
	}
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.done)
		if c.stop != nil {
			c.stop()
		}
	})
}

// LocalClient is an in-process hub client.
type LocalClient struct {
	hub         *Hub
	client      *hubClient
	subscribers bus.Subscribers
}

func (c *LocalClient) Name() string {
	return c.client.name
}

func (c *LocalClient) Connected() bool {
	select {
	case <-c.client.done:
		return false
	default:
		return true
	}
}

func (c *LocalClient) Broadcast(msg bus.Message) error {
	if !c.Connected() {
		return bus.ErrClientClosed
	}
	c.hub.route(c.client, msg)
	return nil
}

func (c *LocalClient) Subscribe(handler bus.Handler) func() {
	return c.subscribers.Add(handler)
}

func (c *LocalClient) Close() error {
	c.hub.unregister(c.client)
	return nil
}
