package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"spar-talk/server/internal/config"
	"spar-talk/server/internal/engine"
	"spar-talk/server/internal/live"
	"spar-talk/server/internal/model"
	"spar-talk/server/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Server 对外 HTTP 入口：把引擎的四个操作（开局/轮次/结算/查询）
// 绑定为薄薄的一层路由，另提供时间线回放与观战 WebSocket。
type Server struct {
	config *config.Config
	engine *engine.Engine
	hub    *live.Hub

	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, eng *engine.Engine, hub *live.Hub) *Server {
	allowed := make(map[string]bool, len(cfg.Stream.AllowedOrigins))
	for _, o := range cfg.Stream.AllowedOrigins {
		allowed[o] = true
	}

	return &Server{
		config: cfg,
		engine: eng,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由，便于扩展日志/鉴权/限流等能力。
	e := gin.New()
	e.Use(gin.Logger(), gin.Recovery(), s.corsMiddleware())
	e.GET("/healthz", s.handleHealthz)
	e.GET("/api/personas", s.handlePersonas)
	e.POST("/api/sessions", s.handleCreateSession)
	e.GET("/api/sessions/:id", s.handleGetSession)
	e.POST("/api/sessions/:id/turns", s.handleSubmitTurn)
	e.POST("/api/sessions/:id/finalize", s.handleFinalize)
	e.GET("/api/sessions/:id/events", s.handleSessionEvents)
	e.GET("/api/sessions/:id/stream", s.handleSessionStream)
	return e
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handlePersonas 返回可选的人设/难度/模式目录。
func (s *Server) handlePersonas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"personas": []model.Persona{
			model.PersonaDefault, model.PersonaAngry, model.PersonaSilent,
			model.PersonaPriceSensitive, model.PersonaSkeptical, model.PersonaFriendly,
		},
		"difficulties": []model.Difficulty{
			model.DifficultyEasy, model.DifficultyNormal, model.DifficultyHard, model.DifficultyNightmare,
		},
		"modes": []model.Mode{model.ModeStandard, model.ModeTimeTrial, model.ModeCloseIn2M},
	})
}

type createSessionRequest struct {
	RepID      string `json:"rep_id"`
	Persona    string `json:"persona"`
	Difficulty string `json:"difficulty"`
	Mode       string `json:"mode"`
}

type createSessionResponse struct {
	SessionID    string               `json:"session_id"`
	Persona      model.Persona        `json:"persona"`
	Difficulty   model.Difficulty     `json:"difficulty"`
	Mode         model.Mode           `json:"mode"`
	InitialState model.EmotionalState `json:"initial_state"`
}

// handleCreateSession 开启新会话。难度/模式非法时同步拒绝。
func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.RepID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rep_id required"})
		return
	}

	sess, err := s.engine.StartSession(c.Request.Context(), engine.StartParams{
		RepID:      req.RepID,
		Persona:    req.Persona,
		Difficulty: req.Difficulty,
		Mode:       req.Mode,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, createSessionResponse{
		SessionID:    sess.SessionID,
		Persona:      sess.Persona,
		Difficulty:   sess.Difficulty,
		Mode:         sess.Mode,
		InitialState: sess.Emotional,
	})
}

// handleGetSession 返回会话快照。
func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.engine.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type submitTurnRequest struct {
	Text string `json:"text"`
}

// handleSubmitTurn 提交销售代表的一轮话术。
func (s *Server) handleSubmitTurn(c *gin.Context) {
	var req submitTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	result, err := s.engine.SubmitTurn(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type finalizeRequest struct {
	OverrideScore *int `json:"override_score,omitempty"`
}

// handleFinalize 结算会话。重复调用幂等返回已存结果。
func (s *Server) handleFinalize(c *gin.Context) {
	var req finalizeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	bd, err := s.engine.Finalize(c.Request.Context(), c.Param("id"), req.OverrideScore)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bd)
}

// handleSessionEvents 返回会话的完整时间线（回放与审计）。
func (s *Server) handleSessionEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.engine.GetSession(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	events, err := s.engine.History(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list events failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleSessionStream 观战 WebSocket：先回放历史时间线，再推送增量事件。
// 只读流，观战端不产生任何输入。
func (s *Server) handleSessionStream(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.engine.GetSession(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] websocket upgrade failed: session=%s err=%v", id, err)
		return
	}
	defer conn.Close()

	// 必须先订阅、后取回放快照：订阅之后发布的事件进通道缓冲，
	// 窗口期只会产生重叠而不会产生缺口，观战端按 seq 去重即可。
	sub := s.hub.Subscribe(id)
	defer sub.Close()

	events, err := s.engine.History(c.Request.Context(), id)
	if err != nil {
		log.Printf("[API] stream replay read failed: session=%s err=%v", id, err)
		return
	}

	for _, evt := range events {
		if err := conn.WriteJSON(evt); err != nil {
			log.Printf("[API] stream replay write failed: session=%s err=%v", id, err)
			return
		}
	}

	ping := time.NewTicker(s.config.Stream.PingInterval)
	defer ping.Stop()

	// 消费掉观战端的控制帧（close/pong），观战端没有业务输入。
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				log.Printf("[API] stream write failed: session=%s err=%v", id, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeError 把引擎/存储错误映射为 HTTP 状态码。
func (s *Server) writeError(c *gin.Context, err error) {
	var endedErr *engine.SessionEndedError
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, engine.ErrEmptyTurnText):
		c.JSON(http.StatusBadRequest, gin.H{"error": "turn text required"})
	case errors.As(err, &endedErr):
		c.JSON(http.StatusConflict, gin.H{"error": "session already ended", "reason": endedErr.Reason})
	case errors.Is(err, session.ErrRevConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry"})
	default:
		log.Printf("[API] request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		for _, allowed := range s.config.Stream.AllowedOrigins {
			if origin == allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
				c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				break
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
