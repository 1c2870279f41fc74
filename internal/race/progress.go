package race

import (
	"context"

	"github.com/park285/typerace/internal/contest"
	"github.com/park285/typerace/internal/obslog"
	"github.com/park285/typerace/internal/roomstate"
	"github.com/park285/typerace/pkg/racedto"
	"go.uber.org/zap"
)

func validSnapshot(s roomstate.Snapshot) bool {
	return s.Percent >= 0 && s.Percent <= 100 && s.Speed >= 0 && s.Accuracy >= 0 && s.Accuracy <= 100
}

// Progress stores the caller's latest snapshot and broadcasts the whole board.
// A board that fails to publish is logged and dropped; the next update
// supersedes it.
func (s *Service) Progress(ctx context.Context, contestID, userID int64, snap roomstate.Snapshot) error {
	if !validSnapshot(snap) {
		return newErr(KindInvalid, contestID, ErrInvalidProgress)
	}
	c, err := s.repo.GetContest(ctx, contestID)
	if err != nil {
		return infraErr(contestID, "get contest", err)
	}
	if c == nil {
		return newErr(KindNotFound, contestID, ErrRoomNotFound)
	}
	if c.Status != contest.StatusProgress {
		return newErr(KindConflict, contestID, ErrNotInProgress)
	}
	ok, err := s.store.UpdateProgress(ctx, contestID, userID, snap)
	if err != nil {
		return infraErr(contestID, "update progress", err)
	}
	if !ok {
		return newErr(KindConflict, contestID, ErrNotParticipant)
	}

	all, err := s.store.AllProgress(ctx, contestID)
	if err != nil {
		obslog.L().Warn("progress_read_failed", obslog.Contest(contestID), zap.Error(err))
		return nil
	}
	board := make(racedto.ProgressBoard, len(all))
	for id, v := range all {
		board[id] = racedto.Snapshot{Percent: v.Percent, Speed: v.Speed, Accuracy: v.Accuracy}
	}
	if err := s.publish(ctx, contestID, racedto.TopicProgress, board); err != nil {
		obslog.L().Warn("progress_dropped", obslog.Contest(contestID), obslog.User(userID), zap.Error(err))
	}
	return nil
}
