package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/suPer8Hu/polylog/internal/archive"
	"github.com/suPer8Hu/polylog/internal/chat"
	"github.com/suPer8Hu/polylog/internal/common"
	"github.com/suPer8Hu/polylog/internal/httpapi/middleware"
	"github.com/suPer8Hu/polylog/internal/models"
)

// ResetConversation drops the conversation's AI session. Live connections
// stay joined; the next AI reply starts from an empty context.
func (h *Handler) ResetConversation(c *gin.Context) {
	cid := c.Param("id")
	h.Sessions.Clear(cid)
	h.Log.Info("ai session reset", "conversation_id", cid, "by", c.GetUint64(middleware.UserIDKey))
	common.OK(c, gin.H{"conversation_id": cid, "cleared": true})
}

// RecentEvents reads the Redis mirror; an unavailable mirror yields an
// empty list.
func (h *Handler) RecentEvents(c *gin.Context) {
	cid := c.Param("id")
	limit, _ := strconv.Atoi(c.Query("limit"))

	events := []chat.Event{}
	if h.Redis != nil {
		got, err := h.Redis.Recent(c.Request.Context(), cid, limit)
		if err != nil {
			h.Log.Warn("redis recent failed", "conversation_id", cid, "err", err)
		} else {
			events = got
		}
	}
	common.OK(c, gin.H{"conversation_id": cid, "events": events})
}

func (h *Handler) ListMessages(c *gin.Context) {
	if h.Archive == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50300, "database unavailable")
		return
	}
	cid := c.Param("id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.Archive.ListMessages(c.Request.Context(), cid, limit, beforeID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"messages":       lo.Map(msgs, func(m models.ArchivedMessage, _ int) chat.Event { return archive.FromModel(m) }),
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) ConversationSummary(c *gin.Context) {
	cid := c.Param("id")
	summary, ok := h.Sessions.Summary(cid)
	common.OK(c, gin.H{
		"conversation_id": cid,
		"available":       ok,
		"summary":         summary,
		"members":         h.Relay.Registry().Members(cid),
	})
}
