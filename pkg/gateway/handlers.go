package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hyperbola/sessiond/pkg/log"
	"github.com/hyperbola/sessiond/pkg/types"
)

type createRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	result, err := s.engine.Create(c.Request.Context(), req.UserID)
	if err != nil {
		s.respondError(c, err, false)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleWake(c *gin.Context) {
	u := c.Param("uuid")
	if err := s.engine.Wake(c.Request.Context(), u); err != nil {
		s.respondError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uuid": u, "action": "wake", "status": "waking"})
}

func (s *Server) handleSleep(c *gin.Context) {
	u := c.Param("uuid")
	if err := s.engine.Sleep(c.Request.Context(), u); err != nil {
		s.respondError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uuid": u, "action": "sleep", "status": "sleeping"})
}

type scaleRequest struct {
	Scale string `json:"scale"`
}

func (s *Server) handleScale(c *gin.Context) {
	u := c.Param("uuid")
	var req scaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	if err := s.engine.Scale(c.Request.Context(), u, req.Scale); err != nil {
		s.respondError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uuid": u, "action": "scale_" + req.Scale, "status": "success"})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(c *gin.Context) {
	u := c.Param("uuid")
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	result, err := s.engine.Chat(c.Request.Context(), u, req.Message)
	if err != nil {
		s.respondError(c, err, false)
		return
	}
	if result.Processed {
		c.JSON(http.StatusOK, gin.H{
			"status":       "processed",
			"pod_response": json.RawMessage(result.PodResponse),
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) handleStatus(c *gin.Context) {
	u := c.Param("uuid")
	result, err := s.engine.Status(c.Request.Context(), u)
	if err != nil {
		s.respondError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"uuid":         u,
		"session":      result.Session,
		"queue_length": result.QueueLength,
		"replicas":     result.Replicas,
		"timestamp":    types.NowUTC(),
	})
}

func (s *Server) handleDelete(c *gin.Context) {
	u := c.Param("uuid")
	if err := s.engine.Terminate(c.Request.Context(), u); err != nil {
		s.respondError(c, err, true)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uuid": u, "status": "terminated"})
}

func (s *Server) handleSessions(c *gin.Context) {
	sessions, err := s.reg.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(sessions), "sessions": sessions})
}

func (s *Server) handleHealth(c *gin.Context) {
	redis := "healthy"
	if err := s.store.Ping(c.Request.Context()); err != nil {
		redis = "unhealthy"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"redis":     redis,
		"version":   s.cfg.Version,
		"timestamp": types.NowUTC(),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	total, active, sleeping, err := s.reg.Counts(c.Request.Context())
	if err != nil {
		s.respondError(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_sessions":    total,
		"active_sessions":   active,
		"sleeping_sessions": sleeping,
		"timestamp":         types.NowUTC(),
	})
}

// respondError maps engine errors to status codes. A missing session is
// 404 only on delete; transition endpoints treat it as a bad request
// against a uuid the caller no longer owns.
func (s *Server) respondError(c *gin.Context, err error, isDelete bool) {
	switch types.KindOf(err) {
	case types.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case types.KindSessionNotFound:
		if isDelete {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Session not found"})
		}
	case types.KindStoreUnavailable:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service unavailable"})
	case types.KindOrchestratorError:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		logger := log.WithComponent("gateway")
		logger.Error().Err(err).Msg("Unclassified handler error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
