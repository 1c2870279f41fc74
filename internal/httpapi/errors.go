package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/park285/typerace/internal/obslog"
	"github.com/park285/typerace/internal/race"
	"github.com/park285/typerace/pkg/racedto"
	"go.uber.org/zap"
)

// message keys per sentinel; invalid arguments without a dedicated key use
// error.invalid_argument.
var errorKeys = []struct {
	err  error
	code string
}{
	{race.ErrRoomNotFound, "not_found"},
	{race.ErrRoomExpired, "room_expired"},
	{race.ErrRoomFull, "room_full"},
	{race.ErrAlreadyStarted, "already_started"},
	{race.ErrNotParticipant, "not_participant"},
	{race.ErrNotInProgress, "not_in_progress"},
	{race.ErrExerciseNotFound, "exercise_not_found"},
	{race.ErrInvalidCapacity, "invalid_capacity"},
}

func statusFor(kind race.Kind) int {
	switch kind {
	case race.KindNotFound, race.KindStale:
		return http.StatusNotFound
	case race.KindConflict:
		return http.StatusConflict
	case race.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// domainError maps err to an HTTP status and its rendered wire form.
func (s *Server) domainError(err error) (int, racedto.DomainError) {
	kind := race.KindOf(err)
	contestID := race.ContestOf(err)
	data := map[string]any{
		"ContestID": contestID,
		"Min":       s.cfg.MinCapacity,
		"Max":       s.cfg.MaxCapacity,
		"Detail":    err.Error(),
	}

	code := ""
	for _, k := range errorKeys {
		if errors.Is(err, k.err) {
			code = k.code
			break
		}
	}
	switch {
	case code != "":
	case kind == race.KindInvalid:
		code = "invalid_argument"
	default:
		code = "internal"
	}

	de := racedto.DomainError{
		Code:      code,
		Message:   s.msgs.RenderOr("error."+code, data, err.Error()),
		ContestID: contestID,
		Retryable: kind == race.KindInfra,
	}
	return statusFor(kind), de
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, de := s.domainError(err)
	if status >= http.StatusInternalServerError {
		obslog.L().Error("request_failed", obslog.Contest(de.ContestID), zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, de)
}

func (s *Server) badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, racedto.DomainError{
		Code:    "invalid_argument",
		Message: s.msgs.RenderOr("error.invalid_argument", map[string]any{"Detail": detail}, detail),
	})
}

func (s *Server) unauthenticated() racedto.DomainError {
	return racedto.DomainError{
		Code:    "unauthenticated",
		Message: s.msgs.RenderOr("error.unauthenticated", nil, "missing user identity"),
	}
}
