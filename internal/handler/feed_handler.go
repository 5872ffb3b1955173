package handler

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tahfiz-app/tahfiz-api/internal/models"
	"github.com/tahfiz-app/tahfiz-api/internal/service"
	appErrors "github.com/tahfiz-app/tahfiz-api/pkg/errors"
	"github.com/tahfiz-app/tahfiz-api/pkg/feed"
	"github.com/tahfiz-app/tahfiz-api/pkg/response"
)

// FeedHandler streams the change feed to dashboard clients over SSE.
type FeedHandler struct {
	broker  *feed.Broker
	metrics *service.MetricsService
}

// NewFeedHandler constructs handler.
func NewFeedHandler(broker *feed.Broker, metrics *service.MetricsService) *FeedHandler {
	return &FeedHandler{broker: broker, metrics: metrics}
}

// Stream godoc
// @Summary Subscribe to the change feed for one scope
// @Tags Feed
// @Produce text/event-stream
// @Param scope query string true "Scope kind: student, teacher or school"
// @Param id query string true "Scope id"
// @Success 200
// @Router /feed [get]
func (h *FeedHandler) Stream(c *gin.Context) {
	scope, err := models.ParseScope(c.Query("scope"), c.Query("id"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if !scopeAllowed(scope, claims) {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	sub := h.broker.Subscribe(scope)
	defer h.broker.Unsubscribe(sub)
	h.metrics.SetFeedSubscribers(scope.Kind, h.broker.SubscriberCount(scope))
	defer func() {
		h.metrics.SetFeedSubscribers(scope.Kind, h.broker.SubscriberCount(scope))
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-store")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().UTC().Format(time.RFC3339))
			return true
		case event, ok := <-sub.Events():
			if !ok {
				// Dropped for falling behind. Tell the client to re-attach
				// from a fresh snapshot.
				c.SSEvent("reset", gin.H{"reason": "subscriber lagged"})
				return false
			}
			c.SSEvent("change", event)
			return true
		}
	})
}

// scopeAllowed checks the session's boundary against the requested scope.
// Students only see their own stream; teachers their own marking stream or a
// student within reach; everything school-wide requires a school-level role.
func scopeAllowed(scope models.Scope, claims *models.JWTClaims) bool {
	switch scope.Kind {
	case models.ScopeStudent:
		if claims.Role == models.RoleStudent {
			return scope.ID == claims.UserID
		}
		return claims.Role == models.RoleTeacher || claims.Role == models.RoleParent ||
			claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin
	case models.ScopeTeacher:
		if claims.Role == models.RoleTeacher {
			return scope.ID == claims.UserID
		}
		return claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin
	case models.ScopeSchool:
		if scope.ID != claims.SchoolID {
			return false
		}
		return claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin
	}
	return false
}
