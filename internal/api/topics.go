package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hottake/debate-app/internal/topic"
)

func (h *Handler) listTopics(c *gin.Context) {
	category := c.Query("category")
	if category != "" && !h.catalog.HasCategory(category) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": "unknown_category", "message": "unknown category"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": h.catalog.List(category)})
}

func (h *Handler) randomTopic(c *gin.Context) {
	t, err := h.catalog.Random(c.Query("category"))
	if errors.Is(err, topic.ErrUnknownCategory) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": "unknown_category", "message": "unknown category"})
		return
	}
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) topicCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": h.catalog.Categories()})
}

func (h *Handler) iceServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ice_servers": h.ice})
}
