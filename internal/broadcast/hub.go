package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/typerace/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sink receives encoded frames for one connection. Send must not block for
// long; slow sinks should buffer or fail.
type Sink interface {
	Send(ctx context.Context, frame []byte) error
}

// Hub pattern-subscribes to every contest channel and forwards frames to the
// sinks registered on this instance.
type Hub struct {
	rdb *redis.Client

	mu   sync.RWMutex
	subs map[int64]map[string]Sink

	pubsub   *redis.PubSub
	stopOnce sync.Once
	wg       sync.WaitGroup

	sendTimeout time.Duration
}

func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		rdb:         rdb,
		subs:        make(map[int64]map[string]Sink),
		sendTimeout: 2 * time.Second,
	}
}

// Start subscribes and returns once Redis confirmed the subscription.
func (h *Hub) Start(ctx context.Context) error {
	if h.pubsub != nil {
		return errors.New("hub already started")
	}
	ps := h.rdb.PSubscribe(ctx, channelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}
	h.pubsub = ps
	h.wg.Add(1)
	go h.loop(ps.Channel())
	return nil
}

func (h *Hub) loop(ch <-chan *redis.Message) {
	defer h.wg.Done()
	for msg := range ch {
		id, ok := contestFromChannel(msg.Channel)
		if !ok {
			continue
		}
		h.Deliver(id, []byte(msg.Payload))
	}
}

// Subscribe registers sink for a contest and returns its subscription id.
func (h *Hub) Subscribe(contestID int64, sink Sink) string {
	id := uuid.NewString()
	h.mu.Lock()
	conns, ok := h.subs[contestID]
	if !ok {
		conns = make(map[string]Sink)
		h.subs[contestID] = conns
	}
	conns[id] = sink
	total := len(conns)
	h.mu.Unlock()
	obslog.L().Debug("hub_subscribe", obslog.Contest(contestID), zap.String("sub_id", id), zap.Int("total", total))
	return id
}

func (h *Hub) Unsubscribe(contestID int64, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.subs[contestID]
	if !ok {
		return
	}
	delete(conns, subID)
	if len(conns) == 0 {
		delete(h.subs, contestID)
	}
}

// Count returns the number of local sinks of a contest.
func (h *Hub) Count(contestID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[contestID])
}

// Deliver writes frame to every local sink of the contest. Sinks that fail are
// dropped.
func (h *Hub) Deliver(contestID int64, frame []byte) {
	h.mu.RLock()
	targets := make(map[string]Sink, len(h.subs[contestID]))
	for id, s := range h.subs[contestID] {
		targets[id] = s
	}
	h.mu.RUnlock()

	for id, s := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
		err := s.Send(ctx, frame)
		cancel()
		if err != nil {
			obslog.L().Warn("hub_send_error", obslog.Contest(contestID), zap.String("sub_id", id), zap.Error(err))
			h.Unsubscribe(contestID, id)
		}
	}
}

func (h *Hub) Close() error {
	var err error
	h.stopOnce.Do(func() {
		if h.pubsub != nil {
			err = h.pubsub.Close()
		}
	})
	h.wg.Wait()
	return err
}
