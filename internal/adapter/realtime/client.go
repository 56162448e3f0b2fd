package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tracefund/trace-backend/internal/domain"
)

var realtimeLog = logrus.WithField("component", "realtime")

// ErrNotConnected is returned when a frame is sent without a live connection
var ErrNotConnected = errors.New("realtime connection is not established")

// ClientConfig represents configuration for the realtime client
type ClientConfig struct {
	URL            string
	Header         http.Header
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	ReconnectDelay time.Duration
}

func (c *ClientConfig) withDefaults() {
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
}

// Client multiplexes trace and new-donation subscriptions over one websocket.
// Active subscriptions are replayed after a reconnect.
type Client struct {
	cfg ClientConfig

	mu   sync.RWMutex
	conn *websocket.Conn
	subs map[string]*subscription

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type subscription struct {
	client *Client
	req    Request
	once   sync.Once

	onTrace    func(*domain.Trace)
	onNotFound func()
	onCount    func(int)
	onReset    func()
}

// Unsubscribe releases the subscription; later calls are no-ops
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.remove(s.req.ID, true)
	})
}

// NewClient creates a new realtime client
func NewClient(cfg ClientConfig) *Client {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		subs:   make(map[string]*subscription),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect dials the realtime endpoint and starts the read and ping loops
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()
	return nil
}

// Close stops the loops and closes the connection
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

// SubscribeToTrace subscribes to trace snapshots by ID or slug
func (c *Client) SubscribeToTrace(_ context.Context, ref domain.TraceRef, onUpdate func(*domain.Trace), onNotFound func()) (domain.Subscription, error) {
	sub := &subscription{
		client: c,
		req: Request{
			Action:  actionSubscribe,
			ID:      uuid.NewString(),
			Topic:   topicTrace,
			TraceID: ref.ID,
			Slug:    ref.Slug,
		},
		onTrace:    onUpdate,
		onNotFound: onNotFound,
	}
	return c.add(sub)
}

// SubscribeToNewDonationCount subscribes to the count of donations newer than the last reload
func (c *Client) SubscribeToNewDonationCount(_ context.Context, traceID string, onCount func(int), onReset func()) (domain.Subscription, error) {
	sub := &subscription{
		client: c,
		req: Request{
			Action:  actionSubscribe,
			ID:      uuid.NewString(),
			Topic:   topicNewDonations,
			TraceID: traceID,
		},
		onCount: onCount,
		onReset: onReset,
	}
	return c.add(sub)
}

func (c *Client) add(sub *subscription) (domain.Subscription, error) {
	c.mu.Lock()
	c.subs[sub.req.ID] = sub
	c.mu.Unlock()

	if err := c.send(sub.req); err != nil {
		c.remove(sub.req.ID, false)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", sub.req.Topic, err)
	}
	return sub, nil
}

func (c *Client) remove(id string, notify bool) {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if ok && notify {
		if err := c.send(Request{Action: actionUnsubscribe, ID: id}); err != nil && !errors.Is(err, ErrNotConnected) {
			realtimeLog.WithError(err).WithField("subscription", id).Debug("failed to send unsubscribe")
		}
	}
}

func (c *Client) send(req Request) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(req)
}

func (c *Client) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return fmt.Errorf("failed to connect to realtime endpoint: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	c.mu.Lock()
	// Close may have run while dialling; its conn reset must win
	if err := c.ctx.Err(); err != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("realtime client closed: %w", err)
	}
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			realtimeLog.WithError(err).Warn("realtime connection lost, reconnecting")
			_ = conn.Close()
			if !c.reconnect() {
				return
			}
			continue
		}

		// Any frame counts as liveness
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			realtimeLog.WithError(err).Debug("dropping malformed frame")
			continue
		}
		c.dispatch(ev)
	}
}

// reconnect redials until it succeeds or the client is closed, then replays the subscriptions
func (c *Client) reconnect() bool {
	for {
		select {
		case <-c.ctx.Done():
			return false
		case <-time.After(c.cfg.ReconnectDelay):
		}

		if err := c.dial(c.ctx); err != nil {
			if c.ctx.Err() != nil {
				return false
			}
			realtimeLog.WithError(err).Warn("reconnect failed")
			continue
		}

		c.mu.RLock()
		reqs := make([]Request, 0, len(c.subs))
		for _, sub := range c.subs {
			reqs = append(reqs, sub.req)
		}
		c.mu.RUnlock()

		for _, req := range reqs {
			if err := c.send(req); err != nil {
				realtimeLog.WithError(err).WithField("subscription", req.ID).Warn("failed to resubscribe")
			}
		}
		realtimeLog.Infof("reconnected, %d subscriptions restored", len(reqs))
		return true
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn == nil {
				continue
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				realtimeLog.WithError(err).Debug("ping failed")
			}
		}
	}
}

// dispatch runs on the read loop; subscribers must not block
func (c *Client) dispatch(ev Event) {
	c.mu.RLock()
	sub, ok := c.subs[ev.ID]
	c.mu.RUnlock()
	if !ok {
		return
	}

	switch ev.Event {
	case eventUpdate:
		if sub.onTrace != nil && ev.Trace != nil {
			sub.onTrace(ev.Trace.ToDomain())
		}
	case eventNotFound:
		if sub.onNotFound != nil {
			sub.onNotFound()
		}
	case eventCount:
		if sub.onCount != nil {
			sub.onCount(ev.Count)
		}
	case eventReset:
		if sub.onReset != nil {
			sub.onReset()
		}
	default:
		realtimeLog.WithField("event", ev.Event).Debug("unknown event")
	}
}
