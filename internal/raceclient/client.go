// Package raceclient is a participant-side socket client: it dials a contest
// socket, delivers server events to callbacks and reconnects with backoff.
package raceclient

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/typerace/internal/obslog"
	"github.com/park285/typerace/pkg/racedto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

type EventCallback func(ev *racedto.Envelope)

type StateCallback func(state State)

var ErrNotConnected = errors.New("raceclient: not connected")

type Options struct {
	UserID int64
	Name   string

	// MaxReconnects of 0 disables reconnecting.
	MaxReconnects int
	BaseDelay     time.Duration
	PingInterval  time.Duration
}

type Client struct {
	url  string
	opts Options
	// ID tags this client in logs.
	ID string

	conn   *websocket.Conn
	connM  sync.RWMutex
	writeM sync.Mutex

	state  State
	stateM sync.RWMutex

	eventCbs []EventCallback
	stateCbs []StateCallback
	cbM      sync.RWMutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// ContestURL builds the socket URL of a contest from a ws:// or http:// base.
func ContestURL(base string, contestID int64) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	}
	return base + "/ws/contests/" + strconv.FormatInt(contestID, 10)
}

func New(url string, opts Options) *Client {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	rootCtx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:        url,
		opts:       opts,
		ID:         uuid.NewString(),
		state:      StateDisconnected,
		stopCh:     make(chan struct{}),
		rootCtx:    rootCtx,
		rootCancel: cancel,
	}
}

func (c *Client) State() State {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.state
}

// Connect dials once; on failure it schedules reconnects and returns the error.
func (c *Client) Connect(ctx context.Context) error {
	switch c.State() {
	case StateConnected, StateConnecting:
		return nil
	}
	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.setState(StateFailed)
		c.scheduleReconnect()
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.headers(),
	})
	if err != nil {
		return err
	}
	c.connM.Lock()
	c.conn = conn
	c.connM.Unlock()
	c.setState(StateConnected)

	c.wg.Add(2)
	go c.listen(conn)
	go c.pingLoop(conn)
	return nil
}

func (c *Client) headers() http.Header {
	hdr := http.Header{}
	if c.opts.UserID > 0 {
		hdr.Set("X-User-Id", strconv.FormatInt(c.opts.UserID, 10))
	}
	if strings.TrimSpace(c.opts.Name) != "" {
		hdr.Set("X-User-Name", c.opts.Name)
	}
	return hdr
}

func (c *Client) listen(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var ev racedto.Envelope
		if err := wsjson.Read(c.rootCtx, conn, &ev); err != nil {
			if c.stopping() {
				return
			}
			obslog.L().Debug("raceclient_read_failed", zap.String("client", c.ID), zap.Error(err))
			c.drop(conn, "reconnect")
			return
		}
		c.cbM.RLock()
		cbs := append([]EventCallback(nil), c.eventCbs...)
		c.cbM.RUnlock()
		for _, cb := range cbs {
			cb(&ev)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.rootCtx.Done():
			return
		case <-t.C:
			if c.current() != conn {
				return
			}
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				c.drop(conn, "ping failure")
				return
			}
		}
	}
}

// drop closes conn if it is still current and starts reconnecting.
func (c *Client) drop(conn *websocket.Conn, reason string) {
	c.connM.Lock()
	if c.conn != conn {
		c.connM.Unlock()
		return
	}
	c.conn = nil
	c.connM.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, reason)
	if c.stopping() {
		return
	}
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

func (c *Client) current() *websocket.Conn {
	c.connM.RLock()
	defer c.connM.RUnlock()
	return c.conn
}

func (c *Client) scheduleReconnect() {
	if c.opts.MaxReconnects <= 0 {
		return
	}
	c.setState(StateReconnecting)
	go func() {
		for attempt := 1; attempt <= c.opts.MaxReconnects; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(c.backoff(attempt)):
			}
			if err := c.dial(c.rootCtx); err != nil {
				obslog.L().Debug("raceclient_reconnect_failed", zap.String("client", c.ID), zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			return
		}
		c.setState(StateFailed)
	}()
}

func (c *Client) backoff(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	return c.opts.BaseDelay * time.Duration(1<<uint(attempt-1))
}

func (c *Client) OnEvent(cb EventCallback) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.eventCbs = append(c.eventCbs, cb)
}

func (c *Client) OnStateChange(cb StateCallback) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.stateCbs = append(c.stateCbs, cb)
}

func (c *Client) setState(state State) {
	c.stateM.Lock()
	c.state = state
	c.stateM.Unlock()

	c.cbM.RLock()
	cbs := append([]StateCallback(nil), c.stateCbs...)
	c.cbM.RUnlock()
	for _, cb := range cbs {
		cb(state)
	}
}

// Send writes one client message. Writes are serialized.
func (c *Client) Send(ctx context.Context, msg racedto.ClientMessage) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	return wsjson.Write(ctx, conn, msg)
}

func (c *Client) Ready(ctx context.Context) error {
	return c.Send(ctx, racedto.ClientMessage{Type: racedto.ActionReady})
}

func (c *Client) Progress(ctx context.Context, percent, speed int, accuracy float64) error {
	return c.Send(ctx, racedto.ClientMessage{Type: racedto.ActionProgress, Percent: percent, Speed: speed, Accuracy: accuracy})
}

func (c *Client) Finish(ctx context.Context, durationSeconds, speed int, accuracy float64) error {
	return c.Send(ctx, racedto.ClientMessage{Type: racedto.ActionFinish, DurationSeconds: durationSeconds, Speed: speed, Accuracy: accuracy})
}

// Close stops reconnecting, closes the socket and waits for the loops.
func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.connM.Lock()
	conn := c.conn
	c.conn = nil
	c.connM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}
	c.rootCancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateDisconnected)
		return nil
	}
}

func (c *Client) stopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}
