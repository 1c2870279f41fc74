package race

import (
	"context"
	"errors"
	"time"

	"github.com/park285/typerace/internal/contest"
	"github.com/park285/typerace/internal/obslog"
	"github.com/park285/typerace/pkg/racedto"
	"go.uber.org/zap"
)

// FinishReport is what a participant submits when done typing.
type FinishReport struct {
	DurationSeconds int
	Speed           int
	Accuracy        float64
}

func (r FinishReport) valid() bool {
	return r.DurationSeconds >= 0 && r.Speed >= 0 && r.Accuracy >= 0 && r.Accuracy <= 100
}

// FinishOutcome tells the caller its place. Duplicate is set when the caller's
// result was already stored; nothing is recorded or broadcast again then.
type FinishOutcome struct {
	Rank      int64
	Place     contest.Place
	Duplicate bool
	// Completed is set on the call that closed the contest.
	Completed bool
}

// Finish ranks the caller, persists the result and closes the contest once
// every present participant has finished.
func (s *Service) Finish(ctx context.Context, contestID, userID int64, rep FinishReport) (*FinishOutcome, error) {
	if !rep.valid() {
		return nil, newErr(KindInvalid, contestID, ErrInvalidFinish)
	}
	c, err := s.repo.GetContest(ctx, contestID)
	if err != nil {
		return nil, infraErr(contestID, "get contest", err)
	}
	if c == nil {
		return nil, newErr(KindNotFound, contestID, ErrRoomNotFound)
	}
	if c.Status != contest.StatusProgress {
		return nil, newErr(KindConflict, contestID, ErrNotInProgress)
	}
	member, err := s.store.IsParticipant(ctx, contestID, userID)
	if err != nil {
		return nil, infraErr(contestID, "is participant", err)
	}
	if !member {
		return nil, newErr(KindConflict, contestID, ErrNotParticipant)
	}

	// Resolved before anything that can close the room and drop its names.
	name := s.cfg.PlaceholderName
	if names, err := s.store.Names(ctx, contestID); err == nil && names[userID] != "" {
		name = names[userID]
	}

	f, err := s.store.RegisterFinish(ctx, contestID, userID)
	if err != nil {
		return nil, infraErr(contestID, "register finish", err)
	}
	out := &FinishOutcome{Rank: f.Rank, Place: f.Place, Duplicate: f.Duplicate}
	if f.Duplicate {
		recorded, err := s.store.IsRecorded(ctx, contestID, userID)
		if err != nil {
			return nil, infraErr(contestID, "is recorded", err)
		}
		if recorded {
			obslog.L().Info("finish_duplicate", obslog.Contest(contestID), obslog.User(userID), zap.String("place", string(f.Place)))
			return out, nil
		}
		// Ranked by an earlier call whose result never reached the repository.
		out.Duplicate = false
	}

	res := &contest.Result{
		ContestID:       contestID,
		UserID:          userID,
		DurationSeconds: rep.DurationSeconds,
		Speed:           rep.Speed,
		Accuracy:        rep.Accuracy,
		Place:           f.Place,
		FinishedAt:      time.Now().UTC(),
	}
	if err := s.persistResult(ctx, res); err != nil {
		if !errors.Is(err, contest.ErrDuplicateResult) {
			obslog.L().Error("persist_result_failed", obslog.Contest(contestID), obslog.User(userID), zap.Error(err))
			return nil, infraErr(contestID, "persist result", err)
		}
		out.Duplicate = true
	}

	if !out.Duplicate {
		ev := racedto.PlayerFinished{
			UserID:          userID,
			Name:            name,
			Place:           string(f.Place),
			Speed:           rep.Speed,
			DurationSeconds: rep.DurationSeconds,
			Accuracy:        rep.Accuracy,
		}
		if err := s.publish(ctx, contestID, racedto.TopicPlayerFinished, ev); err != nil {
			obslog.L().Warn("publish_failed", obslog.Contest(contestID), zap.String("topic", racedto.TopicPlayerFinished), zap.Error(err))
		}
		obslog.L().Info("player_finished", obslog.Contest(contestID), obslog.User(userID),
			zap.Int64("rank", f.Rank), zap.String("place", string(f.Place)))
	}

	// Completion counts only finishers whose result is stored.
	if err := s.store.MarkRecorded(ctx, contestID, userID); err != nil {
		return nil, infraErr(contestID, "mark recorded", err)
	}
	complete, err := s.store.IsComplete(ctx, contestID)
	if err != nil {
		obslog.L().Warn("completion_check_failed", obslog.Contest(contestID), zap.Error(err))
		return out, nil
	}
	if complete {
		out.Completed = s.finishContest(ctx, contestID)
	}
	return out, nil
}

// persistResult writes one finisher's result. The repository applies the
// insert in a single transaction; callers treat it as all or nothing.
func (s *Service) persistResult(ctx context.Context, res *contest.Result) error {
	return s.repo.SaveResult(ctx, res)
}

// finishContest runs the completion pipeline once; it reports whether this
// caller performed it.
func (s *Service) finishContest(ctx context.Context, contestID int64) bool {
	ok, err := s.repo.TransitionStatus(ctx, contestID, contest.StatusProgress, contest.StatusFinished)
	if err != nil {
		obslog.L().Error("finish_transition_failed", obslog.Contest(contestID), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	board, err := s.Leaderboard(ctx, contestID)
	if err != nil {
		obslog.L().Error("leaderboard_failed", obslog.Contest(contestID), zap.Error(err))
	} else if err := s.publish(ctx, contestID, racedto.TopicFinished, racedto.Finished{Leaderboard: board}); err != nil {
		obslog.L().Warn("publish_failed", obslog.Contest(contestID), zap.String("topic", racedto.TopicFinished), zap.Error(err))
	}
	obslog.L().Info("contest_finished", obslog.Contest(contestID), zap.Int("finishers", len(board)))

	if err := s.store.DeleteRoom(ctx, contestID); err != nil {
		obslog.L().Warn("delete_room_failed", obslog.Contest(contestID), zap.Error(err))
	}
	return true
}

// Leaderboard lists persisted results by place. Names come from presence; a
// finisher whose name is gone gets the placeholder.
func (s *Service) Leaderboard(ctx context.Context, contestID int64) ([]racedto.LeaderboardEntry, error) {
	results, err := s.repo.ListResults(ctx, contestID)
	if err != nil {
		return nil, infraErr(contestID, "list results", err)
	}
	names, err := s.store.Names(ctx, contestID)
	if err != nil {
		obslog.L().Warn("names_read_failed", obslog.Contest(contestID), zap.Error(err))
		names = nil
	}
	board := make([]racedto.LeaderboardEntry, 0, len(results))
	for _, r := range results {
		name := names[r.UserID]
		if name == "" {
			name = s.cfg.PlaceholderName
		}
		board = append(board, racedto.LeaderboardEntry{
			UserID:          r.UserID,
			Name:            name,
			Place:           string(r.Place),
			DurationSeconds: r.DurationSeconds,
			Speed:           r.Speed,
			Accuracy:        r.Accuracy,
		})
	}
	return board, nil
}
