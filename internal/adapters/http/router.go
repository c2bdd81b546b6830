package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/musicflow/server/internal/adapters/signal"
	"github.com/musicflow/server/internal/config"
	"github.com/musicflow/server/internal/media"
	"github.com/musicflow/server/internal/presence"
	"github.com/musicflow/server/internal/room"
)

// Deps is everything the HTTP surface needs wired in at startup.
type Deps struct {
	Signal   *signal.Controller
	Registry *room.Registry
	Presence *presence.Tracker
	Resolver media.Resolver
	Searcher media.Searcher
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MusicflowSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/stats", func(c *gin.Context) {
		rooms, members := deps.Registry.Stats()
		c.JSON(http.StatusOK, gin.H{
			"rooms":   rooms,
			"members": members,
			"online":  deps.Presence.CountOnline(),
			"conns":   deps.Signal.ConnCount(),
		})
	})

	api := r.Group("/api")

	api.GET("/ws", func(c *gin.Context) {
		deps.Signal.HandleWS(ctx, c)
	})

	api.GET("/stream/:id", streamHandler(deps.Resolver))
	api.GET("/search", searchHandler(deps.Searcher))

	return r
}

func streamHandler(resolver media.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "track id required"})
			return
		}

		body, meta, err := resolver.Resolve(c.Request.Context(), id)
		if errors.Is(err, media.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "track not found"})
			return
		}
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("id", id).Msg("stream resolve failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to stream audio"})
			return
		}
		defer body.Close()

		c.Header("Content-Type", meta.ContentType)
		c.Header("Accept-Ranges", "bytes")
		if meta.ContentLength > 0 {
			c.Header("Content-Length", strconv.FormatInt(meta.ContentLength, 10))
		}
		c.Status(http.StatusOK)

		if _, err := io.Copy(c.Writer, body); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("id", id).Msg("stream aborted")
		}
	}
}

func searchHandler(searcher media.Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query required"})
			return
		}

		tracks, err := searcher.Search(c.Request.Context(), query)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("query", query).Msg("search failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": "search failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tracks": tracks})
	}
}
