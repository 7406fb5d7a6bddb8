package cardtrivia

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	apiPrefix          = "/api"
	apiHealthCheck     = "/healthz"
	apiPathLeaderboard = "/leaderboard"
	apiPathStreak      = "/streaks/:user_id"

	apiQueryLimit = "limit"

	xRequestIDHeader = "X-Request-ID"
)

// API serves read-only views of the streak store over HTTP
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
	handlers   *APIHandlers
}

// newAPI sets up the gin engine and http server. Nothing is bound
// until Serve is called.
func newAPI(d *CardTrivia, config *APIConfig) (*API, error) {
	if config == nil {
		return nil, errors.New("nil api config")
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &API{
		config:   config,
		engine:   r,
		logger:   newComponentLogger(config.LogLevel, "api"),
		handlers: &APIHandlers{d: d},
	}

	var tlsCfg *tls.Config
	if config.SSL.CertFile != "" && config.SSL.KeyFile != "" {
		var err error
		tlsCfg, err = tlsConfig(
			config.SSL.CertFile,
			config.SSL.KeyFile,
			config.SSL.TLSMinVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiHealthCheck, api.handlers.healthCheck)

	v := r.Group(apiPrefix)
	v.GET(apiPathLeaderboard, api.handlers.getLeaderboard)
	v.GET(apiPathStreak, api.handlers.getStreak)
	r.NoRoute(
		func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		},
	)

	return api, nil
}

// Serve listens on the configured address and serves until the server
// is shut down. TLS is used when a cert is configured.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		network := a.config.ListenNetwork
		if network == "" {
			network = defaultListenNetwork
		}
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, network, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "serving api", "addr", a.listener.Addr().String())
	return a.httpServer.Serve(a.listener)
}

// APIHandlers contains the handlers for the API endpoints
type APIHandlers struct {
	d *CardTrivia
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	PendingAnswers          int    `json:"pending_answers"`
	TriviaInProgress        int64  `json:"trivia_in_progress"`
	StreakBackend           string `json:"streak_backend"`
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	rv := healthCheckResponse{
		PendingAnswers:   h.d.collector.Pending(),
		TriviaInProgress: h.d.triviaInProgress.Load(),
		StreakBackend:    h.d.config.StreakBackend,
	}
	if h.d.discord != nil {
		rv.DiscordGatewayConnected = h.d.discord.connected.Load()
	}
	c.JSON(http.StatusOK, rv)
}

type leaderboardResponse struct {
	Entries []LeaderboardEntry `json:"entries"`
}

// getLeaderboard returns the top streaks. The optional 'limit' query
// parameter must be between 1 and 100.
//
// Responses:
//   - 200 OK: leaderboardResponse
//   - 400 Bad Request: invalid limit
//   - 503 Service Unavailable: the streak store is unavailable
func (h *APIHandlers) getLeaderboard(c *gin.Context) {
	logger := ginContextLogger(c)

	limit := DefaultLeaderboardSize
	if v := c.Query(apiQueryLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLeaderboardSize {
			c.JSON(
				http.StatusBadRequest,
				gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxLeaderboardSize)},
			)
			return
		}
		limit = n
	}

	board := h.d.leaderboard
	if board == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not ready"})
		return
	}
	entries, err := board.TopByBestStreak(c.Request.Context(), limit)
	if err != nil {
		logger.ErrorContext(c, "error getting leaderboard", tint.Err(err))
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, leaderboardResponse{Entries: entries})
}

// getStreak returns a user's streak. Users who haven't answered a
// question yet have a zero streak.
//
// Responses:
//   - 200 OK: StreakRecord
//   - 503 Service Unavailable: the streak store is unavailable
func (h *APIHandlers) getStreak(c *gin.Context) {
	logger := ginContextLogger(c)
	userID := c.Param("user_id")

	store := h.d.store
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not ready"})
		return
	}
	record, err := store.GetStreak(c.Request.Context(), userID)
	switch {
	case errors.Is(err, errEmptyUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		logger.ErrorContext(c, "error getting streak", tint.Err(err))
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		c.JSON(http.StatusOK, record)
	}
}

// requestIDMiddleware assigns a unique ID to each request, set in the
// gin context and the response headers.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := v.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	return setGinContextLogger(c, slog.Default())
}

func setGinContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request when it finishes, with any
// errors attached to the gin context.
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := setGinContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		errs := c.Errors.ByType(gin.ErrorTypePrivate).Errors()
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs,
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}
