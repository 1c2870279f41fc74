package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/park285/typerace/internal/broadcast"
	"github.com/park285/typerace/internal/obslog"
	"github.com/park285/typerace/internal/race"
	"github.com/park285/typerace/internal/roomstate"
	"github.com/park285/typerace/pkg/racedto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

var (
	errSinkClosed   = errors.New("socket closed")
	errSlowConsumer = errors.New("socket send queue full")
)

// wsSink queues frames for one socket; a single writer goroutine drains the
// queue so frames keep their publish order.
type wsSink struct {
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
}

func newWSSink(size int, cancel context.CancelFunc) *wsSink {
	return &wsSink{queue: make(chan []byte, size), done: make(chan struct{}), cancel: cancel}
}

func (w *wsSink) Send(_ context.Context, frame []byte) error {
	select {
	case <-w.done:
		return errSinkClosed
	default:
	}
	select {
	case w.queue <- frame:
		return nil
	default:
		// a reader this far behind is dropped; it can reconnect
		w.close()
		return errSlowConsumer
	}
}

func (w *wsSink) close() {
	w.once.Do(func() {
		close(w.done)
		w.cancel()
	})
}

func (w *wsSink) writeLoop(ctx context.Context, conn *websocket.Conn, timeout time.Duration) {
	defer w.close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case frame := <-w.queue:
			wctx, cancel := context.WithTimeout(ctx, timeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) socket(c *gin.Context) {
	id, ok := contestParam(c)
	if !ok {
		s.badRequest(c, "invalid contest id")
		return
	}
	player := playerFrom(c)
	if _, err := s.svc.Detail(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:  s.cfg.OriginPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", obslog.Contest(id), obslog.User(player.ID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	sink := newWSSink(s.cfg.SendQueue, cancel)
	subID := s.hub.Subscribe(id, sink)
	defer s.hub.Unsubscribe(id, subID)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sink.writeLoop(ctx, conn, s.cfg.WriteTimeout)
	}()

	obslog.L().Info("ws_connected", obslog.Contest(id), obslog.User(player.ID), zap.String("sub", subID))
	s.readLoop(ctx, conn, sink, id, player)
	sink.close()
	wg.Wait()
	obslog.L().Info("ws_disconnected", obslog.Contest(id), obslog.User(player.ID), zap.String("sub", subID))
}

// readLoop handles one frame at a time, so a participant's updates are
// applied in the order it sent them.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sink *wsSink, contestID int64, p race.Player) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			s.sendError(ctx, sink, contestID, s.badMessage(contestID, "binary frames are not supported"))
			continue
		}
		var msg racedto.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(ctx, sink, contestID, s.badMessage(contestID, "malformed JSON"))
			continue
		}
		if err := s.dispatch(ctx, contestID, p, msg); err != nil {
			_, de := s.domainError(err)
			s.sendError(ctx, sink, contestID, de)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, contestID int64, p race.Player, msg racedto.ClientMessage) error {
	switch msg.Type {
	case racedto.ActionReady:
		return s.svc.Ready(ctx, contestID, p.ID)
	case racedto.ActionProgress:
		snap := roomstate.Snapshot{Percent: msg.Percent, Speed: msg.Speed, Accuracy: msg.Accuracy}
		return s.svc.Progress(ctx, contestID, p.ID, snap)
	case racedto.ActionFinish:
		_, err := s.svc.Finish(ctx, contestID, p.ID, race.FinishReport{
			DurationSeconds: msg.DurationSeconds,
			Speed:           msg.Speed,
			Accuracy:        msg.Accuracy,
		})
		return err
	default:
		return &race.Error{Kind: race.KindInvalid, ContestID: contestID, Err: fmt.Errorf("unknown message type %q", msg.Type)}
	}
}

func (s *Server) badMessage(contestID int64, detail string) racedto.DomainError {
	return racedto.DomainError{
		Code:      "bad_message",
		Message:   s.msgs.RenderOr("error.bad_message", map[string]any{"Detail": detail}, detail),
		ContestID: contestID,
	}
}

func (s *Server) sendError(ctx context.Context, sink *wsSink, contestID int64, de racedto.DomainError) {
	frame, err := broadcast.Encode(contestID, racedto.TopicError, de)
	if err != nil {
		return
	}
	if err := sink.Send(ctx, frame); err != nil {
		obslog.L().Debug("ws_error_frame_dropped", obslog.Contest(contestID), zap.Error(err))
	}
}
