package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"decision-flip/backend/internal/ai"
	"decision-flip/backend/internal/flip"
	"decision-flip/backend/internal/history"
	"decision-flip/backend/internal/lifecycle"
	"decision-flip/backend/internal/scoring"
	"decision-flip/backend/internal/store"
)

// UserHeader carries the caller identity set by the upstream auth proxy.
const UserHeader = "X-User-ID"

const userContextKey = "user_id"

// Config defines server dependencies.
type Config struct {
	DBPath          string
	SilentDB        bool
	AllowedOrigins  []string
	AIConfig        ai.Config
	FallbackModel   string
	DisableAI       bool
	BiasTermsPath   string
	WatchBiasTerms  bool
	HistoryLocation *time.Location
	OracleRPS       float64
	OracleBurst     int

	// Oracle replaces the client built from AIConfig when set.
	Oracle ai.Oracle
	// Source replaces the default random source for the flip when set.
	Source flip.Source
}

// Server wires HTTP handlers with persistence, history and the decision lifecycle.
type Server struct {
	db             *store.Database
	oracle         ai.Oracle
	history        *history.Service
	bias           *scoring.BiasDetector
	engine         *lifecycle.Engine
	notifier       *DecisionNotifier
	limiter        *userLimiter
	location       *time.Location
	allowedOrigins []string
	stopWatch      context.CancelFunc
}

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path required")
	}

	bias, err := scoring.NewBiasDetector(cfg.BiasTermsPath)
	if err != nil {
		return nil, fmt.Errorf("bias detector: %w", err)
	}
	oracle, err := buildOracle(cfg)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.DBPath, cfg.SilentDB)
	if err != nil {
		return nil, err
	}

	loc := cfg.HistoryLocation
	if loc == nil {
		loc = time.Local
	}

	server := &Server{
		db:             db,
		oracle:         oracle,
		history:        history.NewService(db, history.NewFormatter(loc)),
		bias:           bias,
		engine:         lifecycle.NewEngine(db, bias, cfg.Source),
		notifier:       NewDecisionNotifier(),
		limiter:        newUserLimiter(cfg.OracleRPS, cfg.OracleBurst),
		location:       loc,
		allowedOrigins: cfg.AllowedOrigins,
	}
	if cfg.BiasTermsPath != "" && cfg.WatchBiasTerms {
		ctx, cancel := context.WithCancel(context.Background())
		if err := scoring.WatchTerms(ctx, bias, cfg.BiasTermsPath); err != nil {
			cancel()
			logrus.WithError(err).Warn("bias terms hot reload unavailable")
		} else {
			server.stopWatch = cancel
		}
	}
	logrus.WithFields(logrus.Fields{
		"ai_enabled": oracle != nil && oracle.Enabled(),
		"bias_terms": len(bias.Terms()),
		"oracle_rps": cfg.OracleRPS,
		"timezone":   loc.String(),
	}).Info("decision server configured")
	return server, nil
}

func buildOracle(cfg Config) (ai.Oracle, error) {
	if cfg.Oracle != nil {
		return cfg.Oracle, nil
	}
	if cfg.DisableAI {
		logrus.Info("reasoning oracle disabled via configuration")
		return nil, nil
	}
	primary, err := ai.NewClient(cfg.AIConfig)
	if err != nil {
		if errors.Is(err, ai.ErrDisabled) {
			return nil, fmt.Errorf("reasoning oracle disabled: configure OpenAI credentials or set DISABLE_AI=true")
		}
		return nil, fmt.Errorf("ai client: %w", err)
	}

	fallbackModel := strings.TrimSpace(cfg.FallbackModel)
	if fallbackModel == "" || fallbackModel == primary.Model() {
		return primary, nil
	}
	fallbackCfg := cfg.AIConfig
	fallbackCfg.Model = fallbackModel
	fallback, err := ai.NewClient(fallbackCfg)
	if err != nil {
		return nil, fmt.Errorf("fallback ai client: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"model":    primary.Model(),
		"fallback": fallback.Model(),
	}).Info("reasoning oracle fallback enabled")
	return ai.WithFallback(primary, fallback), nil
}

// Close stops the terms watcher and releases the database handle.
func (s *Server) Close() error {
	if s.stopWatch != nil {
		s.stopWatch()
	}
	return s.db.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", UserHeader}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", s.requireUser())
	{
		api.POST("/clarify", s.rateLimited(), s.handleClarify)
		api.POST("/decide", s.rateLimited(), s.handleDecide)
		api.POST("/update-choice", s.handleUpdateChoice)
		api.GET("/history", s.handleHistory)
		api.GET("/decision/:id", s.handleGetDecision)
		api.DELETE("/decision/:id", s.handleDeleteDecision)
		api.POST("/decision/bulk-delete", s.handleBulkDelete)
		api.GET("/decisions/stream", s.handleDecisionStream)
	}

	return r, nil
}

// requireUser rejects requests that arrive without a caller identity.
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserHeader))
		if userID == "" {
			s.renderMessage(c, http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}
		c.Set(userContextKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userContextKey)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ai_enabled":       s.oracle != nil && s.oracle.Enabled(),
		"bias_terms":       len(s.bias.Terms()),
		"history_timezone": s.location.String(),
		"rate_limited":     s.limiter != nil,
	})
}

func (s *Server) handleUpdateChoice(c *gin.Context) {
	var req UpdateChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, bindingError(err))
		return
	}
	userID := currentUser(c)

	updated, err := s.engine.Finalize(c.Request.Context(), userID, req.DecisionID, req.FinalChoice)
	if err != nil {
		s.renderFailure(c, err, "Failed to update choice")
		return
	}
	s.notifier.Publish(userID, DecisionEvent{
		Type:        EventFinalized,
		DecisionID:  updated.ID,
		Result:      updated.Result,
		FinalChoice: updated.FinalChoice,
	})
	c.JSON(http.StatusOK, UpdateChoiceResponse{Success: true, Decision: DecisionFromModel(*updated)})
}

func (s *Server) handleHistory(c *gin.Context) {
	rows, err := s.db.ListDecisions(c.Request.Context(), currentUser(c))
	if err != nil {
		s.renderFailure(c, err, "Failed to fetch decision history")
		return
	}
	dtos := make([]DecisionDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, DecisionFromModel(row))
	}
	c.JSON(http.StatusOK, HistoryResponse{Decisions: dtos})
}

// authorizeDecision distinguishes a missing decision (404) from one owned by
// someone else (403). It reports whether the handler may continue.
func (s *Server) authorizeDecision(c *gin.Context, id string) bool {
	owner, err := s.db.DecisionOwner(c.Request.Context(), id)
	if err != nil {
		s.renderFailure(c, err, "Failed to fetch decision")
		return false
	}
	if owner != currentUser(c) {
		s.renderMessage(c, http.StatusForbidden, "Unauthorized")
		return false
	}
	return true
}

func (s *Server) handleGetDecision(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if !s.authorizeDecision(c, id) {
		return
	}
	decision, err := s.db.GetDecision(c.Request.Context(), currentUser(c), id)
	if err != nil {
		s.renderFailure(c, err, "Failed to fetch decision")
		return
	}
	c.JSON(http.StatusOK, SingleDecisionResponse{Decision: DecisionFromModel(*decision)})
}

func (s *Server) handleDeleteDecision(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if !s.authorizeDecision(c, id) {
		return
	}
	userID := currentUser(c)
	if err := s.db.DeleteDecision(c.Request.Context(), userID, id); err != nil {
		s.renderFailure(c, err, "Failed to delete decision")
		return
	}
	s.notifier.Publish(userID, DecisionEvent{Type: EventDeleted, DecisionID: id, DeletedCount: 1})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleBulkDelete(c *gin.Context) {
	userID := currentUser(c)
	count, err := s.db.DeleteInProgress(c.Request.Context(), userID)
	if err != nil {
		s.renderFailure(c, err, "Failed to delete decisions")
		return
	}
	if count > 0 {
		s.notifier.Publish(userID, DecisionEvent{Type: EventDeleted, DeletedCount: count})
	}
	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"deleted": count,
	}).Info("in-progress decisions deleted")
	c.JSON(http.StatusOK, BulkDeleteResponse{Success: true, DeletedCount: count})
}

func (s *Server) handleDecisionStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if len(s.allowedOrigins) == 0 || origin == "" {
				return true
			}
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	userID := currentUser(c)
	client := s.notifier.Register(userID, conn)
	logrus.WithFields(logrus.Fields{
		"remote":  conn.RemoteAddr().String(),
		"user_id": userID,
	}).Info("decision websocket connected")
	defer s.notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("decision websocket closed")
			} else {
				logrus.WithError(err).Warn("decision websocket unexpected close")
			}
			break
		}
	}
}
