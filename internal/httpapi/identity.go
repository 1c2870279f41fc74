package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/park285/typerace/internal/race"
)

const playerKey = "player"

// identity reads the caller resolved by the upstream gateway. Browsers cannot
// set headers on a socket handshake, so query parameters are accepted too.
func (s *Server) identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawID := c.GetHeader("X-User-Id")
		if rawID == "" {
			rawID = c.Query("userId")
		}
		name := c.GetHeader("X-User-Name")
		if name == "" {
			name = c.Query("name")
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
		name = strings.TrimSpace(name)
		if err != nil || id <= 0 || name == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, s.unauthenticated())
			return
		}
		c.Set(playerKey, race.Player{ID: id, Name: name})
		c.Next()
	}
}

func playerFrom(c *gin.Context) race.Player {
	p, _ := c.MustGet(playerKey).(race.Player)
	return p
}
