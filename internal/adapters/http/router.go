package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomcast/internal/adapters/signal"
	"github.com/dkeye/roomcast/internal/app/orch"
	"github.com/dkeye/roomcast/internal/config"
	"github.com/dkeye/roomcast/internal/domain"
)

const (
	sessionName     = "RoomcastSessions"
	sessionTokenKey = "client_token"
)

// Deps is everything the HTTP surface needs besides config.
type Deps struct {
	Orch       *orch.Orchestrator
	Gatherer   prometheus.Gatherer
	ICEServers []webrtc.ICEServer
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable anonymous token kept in
// the signed session cookie. It is the identity fallback for joins without a
// userId.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(sessionTokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(sessionTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// CORSMiddleware answers for a single configured origin, or any origin for "*".
func CORSMiddleware(allowed string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed == "*" || origin == allowed) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware(cfg.AllowedOrigin))

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	ctrl := signal.NewSignalWSController(deps.Orch, signal.Options{
		ReadLimit:     cfg.ReadLimit,
		PingPeriod:    cfg.PingPeriod,
		PongWait:      cfg.PongWait,
		WriteWait:     cfg.WriteWait,
		SendBuffer:    cfg.SendBuffer,
		AllowedOrigin: cfg.AllowedOrigin,
	})
	ws := func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", ws)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/ws/signal", ws)
	api.GET("/stats", func(c *gin.Context) {
		stats := deps.Orch.Rooms.Stats()
		c.JSON(http.StatusOK, gin.H{
			"roomCount":        stats.RoomCount,
			"participantCount": stats.ParticipantCount,
			"connectionCount":  deps.Orch.Registry.Count(),
			"rooms":            stats.Rooms,
		})
	})
	api.GET("/rooms/:id", func(c *gin.Context) {
		details, ok := deps.Orch.Rooms.Room(domain.RoomID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, details)
	})
	api.GET("/ice-servers", func(c *gin.Context) {
		servers := deps.ICEServers
		if servers == nil {
			servers = []webrtc.ICEServer{}
		}
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
