package race

import (
	"context"
	"strings"
	"time"

	"github.com/park285/typerace/internal/contest"
	"github.com/park285/typerace/internal/obslog"
	"github.com/park285/typerace/internal/roomstate"
	"github.com/park285/typerace/pkg/racedto"
	"go.uber.org/zap"
)

func validPlayer(p Player) bool {
	return p.ID > 0 && strings.TrimSpace(p.Name) != ""
}

// CreateRoom persists a new contest, opens its room and seats the creator.
func (s *Service) CreateRoom(ctx context.Context, p Player, exerciseID int64, capacity int) (*contest.Contest, error) {
	if !validPlayer(p) {
		return nil, newErr(KindInvalid, 0, ErrInvalidPlayer)
	}
	if capacity < s.cfg.MinCapacity || capacity > s.cfg.MaxCapacity {
		return nil, newErr(KindInvalid, 0, ErrInvalidCapacity)
	}
	ex, err := s.exercises.GetExercise(ctx, exerciseID)
	if err != nil {
		return nil, infraErr(0, "get exercise", err)
	}
	if ex == nil {
		return nil, newErr(KindNotFound, 0, ErrExerciseNotFound)
	}

	c := &contest.Contest{
		Status:     contest.StatusCreated,
		Amount:     capacity,
		ExerciseID: exerciseID,
		CreatorID:  p.ID,
	}
	id, err := s.repo.CreateContest(ctx, c)
	if err != nil {
		return nil, infraErr(0, "create contest", err)
	}
	c.ID = id
	if err := s.repo.AddMember(ctx, id, p.ID); err != nil {
		return nil, infraErr(id, "add creator", err)
	}
	if err := s.store.CreateRoom(ctx, id, exerciseID, capacity); err != nil {
		return nil, infraErr(id, "create room", err)
	}
	if err := s.store.AddParticipant(ctx, id, p.ID, p.Name); err != nil {
		return nil, infraErr(id, "seat creator", err)
	}

	obslog.L().Info("room_created", obslog.Contest(id), obslog.User(p.ID),
		zap.Int64("exercise_id", exerciseID), zap.Int("capacity", capacity))
	s.publishJoined(ctx, id, p, 1, capacity)
	return c, nil
}

// Join admits p into the room, or reattaches a returning participant.
// It returns racedto.JoinJoined or racedto.JoinReconnected.
func (s *Service) Join(ctx context.Context, contestID int64, p Player) (string, error) {
	if !validPlayer(p) {
		return "", newErr(KindInvalid, contestID, ErrInvalidPlayer)
	}
	c, err := s.repo.GetContest(ctx, contestID)
	if err != nil {
		return "", infraErr(contestID, "get contest", err)
	}
	if c == nil {
		return "", newErr(KindNotFound, contestID, ErrRoomNotFound)
	}
	exists, err := s.store.RoomExists(ctx, contestID)
	if err != nil {
		return "", infraErr(contestID, "room exists", err)
	}
	if !exists {
		if c.Status != contest.StatusCreated {
			return "", newErr(KindConflict, contestID, ErrAlreadyStarted)
		}
		s.cleanupStale(contestID)
		return "", newErr(KindStale, contestID, ErrRoomExpired)
	}

	member, err := s.store.IsParticipant(ctx, contestID, p.ID)
	if err != nil {
		return "", infraErr(contestID, "is participant", err)
	}
	if member {
		if err := s.store.AddParticipant(ctx, contestID, p.ID, p.Name); err != nil {
			return "", infraErr(contestID, "reattach", err)
		}
		obslog.L().Info("player_reconnected", obslog.Contest(contestID), obslog.User(p.ID))
		return racedto.JoinReconnected, nil
	}
	if c.Status != contest.StatusCreated {
		return "", newErr(KindConflict, contestID, ErrAlreadyStarted)
	}

	outcome, err := s.store.TryJoin(ctx, contestID, p.ID, p.Name)
	if err != nil {
		return "", infraErr(contestID, "try join", err)
	}
	switch outcome {
	case roomstate.JoinNoRoom:
		return "", newErr(KindStale, contestID, ErrRoomExpired)
	case roomstate.JoinFull:
		return "", newErr(KindConflict, contestID, ErrRoomFull)
	case roomstate.JoinAlreadyMember:
		return racedto.JoinReconnected, nil
	}

	if err := s.repo.AddMember(ctx, contestID, p.ID); err != nil {
		if rmErr := s.store.RemoveParticipant(ctx, contestID, p.ID); rmErr != nil {
			obslog.L().Warn("join_rollback_failed", obslog.Contest(contestID), obslog.User(p.ID), zap.Error(rmErr))
		}
		return "", infraErr(contestID, "add member", err)
	}
	count, err := s.store.ParticipantCount(ctx, contestID)
	if err != nil {
		obslog.L().Warn("participant_count_failed", obslog.Contest(contestID), zap.Error(err))
	}
	obslog.L().Info("player_joined", obslog.Contest(contestID), obslog.User(p.ID), zap.Int("count", count))
	s.publishJoined(ctx, contestID, p, count, c.Amount)
	return racedto.JoinJoined, nil
}

func (s *Service) publishJoined(ctx context.Context, contestID int64, p Player, count, capacity int) {
	ev := racedto.PlayerJoined{UserID: p.ID, Name: p.Name, CurrentCount: count, MaxCount: capacity}
	if err := s.publish(ctx, contestID, racedto.TopicPlayerJoined, ev); err != nil {
		obslog.L().Warn("publish_failed", obslog.Contest(contestID), zap.String("topic", racedto.TopicPlayerJoined), zap.Error(err))
	}
}

// Leave removes p from the room. Cleanup failures are logged, not returned;
// leaving never changes capacity or triggers completion.
func (s *Service) Leave(ctx context.Context, contestID int64, p Player) error {
	c, err := s.repo.GetContest(ctx, contestID)
	if err != nil {
		return infraErr(contestID, "get contest", err)
	}
	if c == nil {
		return newErr(KindNotFound, contestID, ErrRoomNotFound)
	}

	name := p.Name
	if names, err := s.store.Names(ctx, contestID); err == nil {
		if n, ok := names[p.ID]; ok && n != "" {
			name = n
		}
	}
	if err := s.store.RemoveParticipant(ctx, contestID, p.ID); err != nil {
		obslog.L().Warn("leave_presence_failed", obslog.Contest(contestID), obslog.User(p.ID), zap.Error(err))
	}
	if err := s.store.UnmarkReady(ctx, contestID, p.ID); err != nil {
		obslog.L().Warn("leave_ready_failed", obslog.Contest(contestID), obslog.User(p.ID), zap.Error(err))
	}
	// Membership of a started contest is kept as history.
	if !c.Status.Started() {
		if err := s.repo.RemoveMember(ctx, contestID, p.ID); err != nil {
			obslog.L().Warn("leave_member_failed", obslog.Contest(contestID), obslog.User(p.ID), zap.Error(err))
		}
	}

	count, err := s.store.ParticipantCount(ctx, contestID)
	if err != nil {
		obslog.L().Warn("participant_count_failed", obslog.Contest(contestID), zap.Error(err))
	}
	obslog.L().Info("player_left", obslog.Contest(contestID), obslog.User(p.ID), zap.Int("count", count))
	ev := racedto.PlayerLeft{UserID: p.ID, Name: name, CurrentCount: count}
	if err := s.publish(ctx, contestID, racedto.TopicPlayerLeft, ev); err != nil {
		obslog.L().Warn("publish_failed", obslog.Contest(contestID), zap.String("topic", racedto.TopicPlayerLeft), zap.Error(err))
	}
	return nil
}

// cleanupStale deletes a CREATED contest whose room expired. It runs detached
// from the request and re-checks both stores before deleting.
func (s *Service) cleanupStale(contestID int64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CleanupTimeout)
		defer cancel()

		c, err := s.repo.GetContest(ctx, contestID)
		if err != nil || c == nil || c.Status != contest.StatusCreated {
			return
		}
		exists, err := s.store.RoomExists(ctx, contestID)
		if err != nil || exists {
			return
		}
		if err := s.repo.DeleteContest(ctx, contestID); err != nil {
			obslog.L().Warn("stale_cleanup_failed", obslog.Contest(contestID), zap.Error(err))
			return
		}
		obslog.L().Info("stale_room_removed", obslog.Contest(contestID))
	}()
}

// ListAvailable pages through CREATED contests; page is 0-based.
func (s *Service) ListAvailable(ctx context.Context, page, size int) (*racedto.RoomPage, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = s.cfg.DefaultPageSize
	}
	if size > s.cfg.MaxPageSize {
		size = s.cfg.MaxPageSize
	}
	items, total, err := s.repo.ListAvailable(ctx, page*size, size)
	if err != nil {
		return nil, infraErr(0, "list available", err)
	}
	out := &racedto.RoomPage{Items: make([]racedto.RoomSummary, 0, len(items)), Page: page, Size: size, Total: total}
	for _, c := range items {
		n, err := s.store.ParticipantCount(ctx, c.ID)
		if err != nil {
			obslog.L().Debug("participant_count_failed", obslog.Contest(c.ID), zap.Error(err))
		}
		out.Items = append(out.Items, racedto.RoomSummary{
			ContestID:    c.ID,
			ExerciseID:   c.ExerciseID,
			Capacity:     c.Amount,
			Participants: n,
			CreatedAt:    c.CreatedAt,
		})
	}
	return out, nil
}

// Detail describes one room. The exercise text is revealed only once the
// contest has started.
func (s *Service) Detail(ctx context.Context, contestID int64) (*racedto.RoomDetail, error) {
	c, err := s.repo.GetContest(ctx, contestID)
	if err != nil {
		return nil, infraErr(contestID, "get contest", err)
	}
	if c == nil {
		return nil, newErr(KindNotFound, contestID, ErrRoomNotFound)
	}
	members, err := s.store.Members(ctx, contestID)
	if err != nil {
		return nil, infraErr(contestID, "members", err)
	}
	names, err := s.store.Names(ctx, contestID)
	if err != nil {
		return nil, infraErr(contestID, "names", err)
	}
	ready, err := s.store.ReadyIDs(ctx, contestID)
	if err != nil {
		return nil, infraErr(contestID, "ready ids", err)
	}
	readySet := make(map[int64]bool, len(ready))
	for _, id := range ready {
		readySet[id] = true
	}

	d := &racedto.RoomDetail{
		ContestID:    c.ID,
		Status:       string(c.Status),
		Capacity:     c.Amount,
		ExerciseID:   c.ExerciseID,
		Participants: make([]racedto.Participant, 0, len(members)),
		CreatedAt:    c.CreatedAt,
	}
	for _, id := range members {
		d.Participants = append(d.Participants, racedto.Participant{UserID: id, Name: names[id], Ready: readySet[id]})
	}
	if c.Status.Started() {
		ex, err := s.exercises.GetExercise(ctx, c.ExerciseID)
		if err != nil {
			return nil, infraErr(contestID, "get exercise", err)
		}
		if ex != nil {
			d.Text = ex.Text
			d.Language = ex.Language
		}
	}
	return d, nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }
