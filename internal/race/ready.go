package race

import (
	"context"
	"time"

	"github.com/park285/typerace/internal/contest"
	"github.com/park285/typerace/internal/obslog"
	"github.com/park285/typerace/pkg/racedto"
	"go.uber.org/zap"
)

// QuorumThreshold is the ready count that starts the countdown for a room of
// the given capacity: half rounded up.
func QuorumThreshold(capacity int) int { return (capacity + 1) / 2 }

// Ready marks userID ready and starts the countdown once quorum is reached.
// Readiness is only accepted while the contest is still open.
func (s *Service) Ready(ctx context.Context, contestID, userID int64) error {
	c, err := s.repo.GetContest(ctx, contestID)
	if err != nil {
		return infraErr(contestID, "get contest", err)
	}
	if c == nil {
		return newErr(KindNotFound, contestID, ErrRoomNotFound)
	}
	if c.Status != contest.StatusCreated {
		return newErr(KindConflict, contestID, ErrAlreadyStarted)
	}
	member, err := s.store.IsParticipant(ctx, contestID, userID)
	if err != nil {
		return infraErr(contestID, "is participant", err)
	}
	if !member {
		return newErr(KindConflict, contestID, ErrNotParticipant)
	}
	if err := s.store.MarkReady(ctx, contestID, userID); err != nil {
		return infraErr(contestID, "mark ready", err)
	}

	readyCount, err := s.store.ReadyCount(ctx, contestID)
	if err != nil {
		return infraErr(contestID, "ready count", err)
	}
	total, err := s.store.ParticipantCount(ctx, contestID)
	if err != nil {
		return infraErr(contestID, "participant count", err)
	}
	ev := racedto.PlayerReady{UserID: userID, ReadyCount: readyCount, TotalCount: total}
	if err := s.publish(ctx, contestID, racedto.TopicPlayerReady, ev); err != nil {
		obslog.L().Warn("publish_failed", obslog.Contest(contestID), zap.String("topic", racedto.TopicPlayerReady), zap.Error(err))
	}

	return s.maybeStartCountdown(ctx, contestID)
}

// maybeStartCountdown moves the contest CREATED -> WAITING when quorum holds.
// The durable compare-and-set lets exactly one concurrent caller win.
func (s *Service) maybeStartCountdown(ctx context.Context, contestID int64) error {
	c, err := s.repo.GetContest(ctx, contestID)
	if err != nil {
		return infraErr(contestID, "get contest", err)
	}
	if c == nil || c.Status != contest.StatusCreated {
		return nil
	}
	capacity, err := s.store.MaxParticipants(ctx, contestID)
	if err != nil {
		return infraErr(contestID, "max participants", err)
	}
	readyCount, err := s.store.ReadyCount(ctx, contestID)
	if err != nil {
		return infraErr(contestID, "ready count", err)
	}
	present, err := s.store.ParticipantCount(ctx, contestID)
	if err != nil {
		return infraErr(contestID, "participant count", err)
	}
	if readyCount < QuorumThreshold(capacity) || present < 2 {
		return nil
	}

	ok, err := s.repo.TransitionStatus(ctx, contestID, contest.StatusCreated, contest.StatusWaiting)
	if err != nil {
		return infraErr(contestID, "transition to waiting", err)
	}
	if !ok {
		return nil
	}
	obslog.L().Info("countdown_started", obslog.Contest(contestID),
		zap.Int("ready", readyCount), zap.Int("present", present), zap.Int("capacity", capacity))

	s.wg.Add(1)
	go s.runCountdown(contestID, c.ExerciseID)
	return nil
}

// runCountdown outlives the request that triggered it.
func (s *Service) runCountdown(contestID, exerciseID int64) {
	defer s.wg.Done()
	ctx := context.Background()

	ticker := time.NewTicker(s.cfg.CountdownTick)
	defer ticker.Stop()
	for n := s.cfg.CountdownSeconds; n >= 0; n-- {
		if err := s.publish(ctx, contestID, racedto.TopicCountdown, racedto.Countdown{SecondsRemaining: n}); err != nil {
			obslog.L().Warn("publish_failed", obslog.Contest(contestID), zap.String("topic", racedto.TopicCountdown), zap.Error(err))
		}
		if n > 0 {
			<-ticker.C
		}
	}
	s.startRound(ctx, contestID, exerciseID)
}

// startRound fetches the text first so a failed fetch leaves the contest in
// WAITING without a start broadcast.
func (s *Service) startRound(ctx context.Context, contestID, exerciseID int64) {
	ex, err := s.exercises.GetExercise(ctx, exerciseID)
	if err != nil || ex == nil {
		obslog.L().Error("start_aborted", obslog.Contest(contestID), zap.Int64("exercise_id", exerciseID), zap.Error(err))
		return
	}
	ok, err := s.repo.TransitionStatus(ctx, contestID, contest.StatusWaiting, contest.StatusProgress)
	if err != nil {
		obslog.L().Error("start_aborted", obslog.Contest(contestID), zap.Error(err))
		return
	}
	if !ok {
		obslog.L().Warn("start_skipped", obslog.Contest(contestID))
		return
	}

	ev := racedto.Start{Text: ex.Text, Language: ex.Language, StartTimestampMillis: nowMillis()}
	if err := s.publish(ctx, contestID, racedto.TopicStart, ev); err != nil {
		obslog.L().Warn("publish_failed", obslog.Contest(contestID), zap.String("topic", racedto.TopicStart), zap.Error(err))
	}
	if err := s.store.ClearReady(ctx, contestID); err != nil {
		obslog.L().Warn("clear_ready_failed", obslog.Contest(contestID), zap.Error(err))
	}
	obslog.L().Info("round_started", obslog.Contest(contestID), zap.Int64("exercise_id", exerciseID))
}
