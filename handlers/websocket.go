package handlers

import (
	"net/http"
	"strconv"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RunProgressWS upgrades the connection and streams progress updates for a
// run until the client disconnects or the run finishes.
func (h *RankHandler) RunProgressWS(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := h.rankService.GetRun(c.Request.Context(), id)
	if err != nil {
		h.notFoundOrError(c, err, "run")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("Failed to upgrade websocket for run %d: %v", id, err)
		return
	}

	log.Infof("Websocket subscriber connected for run %d (status %s)", id, run.Status)
	h.hub.RegisterClient(conn, id)
}
