package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/park285/typerace/pkg/racedto"
)

func contestParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) createContest(c *gin.Context) {
	var req racedto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request body")
		return
	}
	ct, err := s.svc.CreateRoom(c.Request.Context(), playerFrom(c), req.ExerciseID, req.Capacity)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, racedto.CreateRoomResponse{ContestID: ct.ID, Status: string(ct.Status)})
}

func (s *Server) joinContest(c *gin.Context) {
	id, ok := contestParam(c)
	if !ok {
		s.badRequest(c, "invalid contest id")
		return
	}
	status, err := s.svc.Join(c.Request.Context(), id, playerFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, racedto.JoinResponse{ContestID: id, Status: status})
}

func (s *Server) leaveContest(c *gin.Context) {
	id, ok := contestParam(c)
	if !ok {
		s.badRequest(c, "invalid contest id")
		return
	}
	if err := s.svc.Leave(c.Request.Context(), id, playerFrom(c)); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listContests(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		s.badRequest(c, "invalid page")
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "0"))
	if err != nil || size < 0 {
		s.badRequest(c, "invalid size")
		return
	}
	out, err := s.svc.ListAvailable(c.Request.Context(), page, size)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getContest(c *gin.Context) {
	id, ok := contestParam(c)
	if !ok {
		s.badRequest(c, "invalid contest id")
		return
	}
	d, err := s.svc.Detail(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
