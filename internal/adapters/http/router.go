package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/adapters/ws"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/app/orch"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/config"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, orchestrator *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("LinguaLiveSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	registry := orchestrator.Registry
	limiter := ws.NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateWindow)
	ctrl := ws.NewController(registry, limiter, cfg.ReadLimit)

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("participant", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": registry.List()})
	})

	api.POST("/rooms", func(c *gin.Context) {
		var body struct {
			ID       string `json:"id"`
			Capacity int    `json:"capacity"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		id := body.ID
		if id == "" {
			id = uuid.NewString()
		}
		room := registry.CreateRoom(domain.RoomID(id), body.Capacity)
		c.JSON(http.StatusCreated, gin.H{"id": room.ID, "capacity": room.Capacity, "status": room.Status.String()})
	})

	api.GET("/rooms/:id", func(c *gin.Context) {
		roomID := domain.RoomID(c.Param("id"))
		status, err := registry.Status(roomID)
		if errors.Is(err, core.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
			return
		}
		roster, _ := registry.Roster(roomID)
		c.JSON(http.StatusOK, gin.H{"id": roomID, "status": status.String(), "roster": roster})
	})

	// Server-driven calls: the orchestrator façade addressed by handle id.
	calls := api.Group("/calls")

	calls.POST("", func(c *gin.Context) {
		var body struct {
			Room        string `json:"room"`
			Participant string `json:"participant"`
			Role        string `json:"role"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Room == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		participant := body.Participant
		if participant == "" {
			participant = c.GetString("client_token")
		}
		role := domain.RoleStudent
		if body.Role == string(domain.RoleTutor) {
			role = domain.RoleTutor
		}
		h, err := orchestrator.Join(c.Request.Context(), domain.RoomID(body.Room), domain.ParticipantID(participant), role)
		if err != nil {
			status, code := joinFailure(err)
			c.JSON(status, gin.H{"error": code})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"handle": h.ID, "room": h.Room(), "state": h.State()})
	})

	calls.GET("/:id", func(c *gin.Context) {
		h, ok := orchestrator.Lookup(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_handle"})
			return
		}
		sess, _ := orchestrator.Session(h.ID)
		c.JSON(http.StatusOK, gin.H{
			"handle": h.ID,
			"room":   h.Room(),
			"state":  h.State(),
			"tracks": sess.Coordinator().Tracks(),
		})
	})

	calls.DELETE("/:id", func(c *gin.Context) {
		h, ok := orchestrator.Lookup(c.Param("id"))
		if !ok {
			// Already ended; hanging up twice is not an error.
			c.Status(http.StatusNoContent)
			return
		}
		_ = orchestrator.EndCall(h)
		c.Status(http.StatusNoContent)
	})

	calls.POST("/:id/video", func(c *gin.Context) {
		h, ok := orchestrator.Lookup(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_handle"})
			return
		}
		enabled, err := orchestrator.ToggleVideo(h)
		if err != nil {
			status, code := toggleFailure(err)
			c.JSON(status, gin.H{"error": code})
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": enabled})
	})

	calls.POST("/:id/audio", func(c *gin.Context) {
		h, ok := orchestrator.Lookup(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_handle"})
			return
		}
		enabled, err := orchestrator.ToggleAudio(h)
		if err != nil {
			status, code := toggleFailure(err)
			c.JSON(status, gin.H{"error": code})
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": enabled})
	})

	calls.POST("/:id/screen", func(c *gin.Context) {
		h, ok := orchestrator.Lookup(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_handle"})
			return
		}
		sharing, err := orchestrator.ToggleScreenShare(c.Request.Context(), h)
		if err != nil {
			status, code := toggleFailure(err)
			c.JSON(status, gin.H{"error": code})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sharing": sharing})
	})

	// Served fresh on every request: TURN credentials expire, so clients
	// fetch this right before each join.
	r.GET("/webrtc-config", func(c *gin.Context) {
		servers := orchestrator.Ice.ServersForJoin(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func joinFailure(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrRoomFull):
		return http.StatusConflict, "room_full"
	case errors.Is(err, core.ErrAlreadyJoined):
		return http.StatusConflict, "already_joined"
	case errors.Is(err, core.ErrRoomNotFound):
		return http.StatusNotFound, "room_not_found"
	case errors.Is(err, core.ErrAdmissionDenied):
		return http.StatusForbidden, "admission_denied"
	case errors.Is(err, domain.ErrParticipantIDEmpty), errors.Is(err, domain.ErrParticipantIDTooLong):
		return http.StatusBadRequest, "bad_participant"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "join_cancelled"
	default:
		return http.StatusInternalServerError, "join_failed"
	}
}

func toggleFailure(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrDeviceUnavailable):
		return http.StatusConflict, "device_unavailable"
	case errors.Is(err, core.ErrUserCancelledCapture):
		return http.StatusConflict, "capture_cancelled"
	case errors.Is(err, core.ErrAlreadySharing):
		return http.StatusConflict, "already_sharing"
	case errors.Is(err, orch.ErrUnknownHandle):
		return http.StatusNotFound, "unknown_handle"
	default:
		return http.StatusInternalServerError, "toggle_failed"
	}
}
