package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tkarlsen/mealcard/internal/realtime"
)

// RealtimeHandler upgrades dashboard clients onto the event hub.
type RealtimeHandler struct {
	hub *realtime.Hub
}

func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// GET /api/ws?streams=scans,transactions
func (h *RealtimeHandler) Serve(c *gin.Context) {
	var streams []string
	if raw := c.Query("streams"); raw != "" {
		streams = strings.Split(raw, ",")
	} else {
		streams = []string{realtime.StreamScans, realtime.StreamTransactions, realtime.StreamSync}
	}

	h.hub.Serve(streams, c.Writer, c.Request)
}
