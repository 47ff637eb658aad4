package dashboard

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tiger/payment-ops-agent/internal/agent"
	"github.com/tiger/payment-ops-agent/internal/execute"
	"github.com/tiger/payment-ops-agent/internal/stream"
)

// maxCyclesPerRequest caps how much loop work one API call can demand.
const maxCyclesPerRequest = 100

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server exposes the loop over HTTP for operators: read endpoints, the
// approval queue, scenario injection, and a live websocket feed.
type Server struct {
	ctrl   *agent.Controller
	source *stream.Generator
	hub    *Hub
	router *gin.Engine
	logger *slog.Logger
}

// NewServer wires the read API. source may be nil when the agent runs
// against an external event feed; scenario endpoints then return 404.
func NewServer(ctrl *agent.Controller, source *stream.Generator, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		ctrl:   ctrl,
		source: source,
		hub:    hub,
		router: router,
		logger: logger,
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", s.handleSocket)

	api := router.Group("/api")
	{
		api.GET("/summary", s.handleSummary)
		api.GET("/metrics", s.handleMetrics)
		api.GET("/patterns", s.handlePatterns)
		api.GET("/actions", s.handleActions)
		api.GET("/pending-approvals", s.handlePendingApprovals)
		api.POST("/approvals/:id", s.handleApproval)
		api.POST("/run-cycles", s.handleRunCycles)
		if source != nil {
			api.POST("/scenario", s.handleScenario)
			api.DELETE("/scenario", s.handleClearScenario)
		}
	}
	return s
}

// Handler returns the HTTP handler, for serving and for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSummary(c *gin.Context) {
	baseline, baselineSet := s.ctrl.Memory().Baseline()

	var avgSuccess, avgLatency float64
	history := s.ctrl.MetricsHistory()
	if len(history) > 0 {
		for _, snapshot := range history {
			avgSuccess += snapshot.SuccessRate
			avgLatency += snapshot.AvgLatencyMS
		}
		avgSuccess /= float64(len(history))
		avgLatency /= float64(len(history))
	}

	effectiveness := s.ctrl.ActionEffectiveness()
	var evaluated, successful int
	for _, effect := range effectiveness {
		evaluated += effect.Total
		successful += effect.Successful
	}
	var ratio float64
	if evaluated > 0 {
		ratio = float64(successful) / float64(evaluated)
	}

	summary := gin.H{
		"total_transactions":         s.ctrl.TotalTransactions(),
		"cycles":                     s.ctrl.Cycles(),
		"window_size":                s.ctrl.Memory().Len(),
		"avg_success_rate":           avgSuccess,
		"avg_latency":                avgLatency,
		"total_patterns":             len(s.ctrl.Memory().PatternsSnapshot()),
		"total_actions":              len(s.ctrl.Memory().ActionsSnapshot()),
		"baseline":                   baseline,
		"baseline_established":       baselineSet,
		"pending_approvals":          len(s.ctrl.PendingApprovals()),
		"rollbacks":                  len(s.ctrl.RollbackHistory()),
		"action_effectiveness":       effectiveness,
		"action_effectiveness_ratio": ratio,
	}
	if s.source != nil {
		scenario, target := s.source.Active()
		summary["active_scenario"] = string(scenario)
		summary["scenario_target"] = target
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"metrics_history": s.ctrl.MetricsHistory()})
}

func (s *Server) handlePatterns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"patterns": s.ctrl.Memory().PatternsSnapshot()})
}

func (s *Server) handleActions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"actions": s.ctrl.Memory().ActionsSnapshot()})
}

func (s *Server) handlePendingApprovals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending_approvals": s.ctrl.PendingApprovals()})
}

func (s *Server) handleApproval(c *gin.Context) {
	var body struct {
		Approve *bool `json:"approve" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must contain approve"})
		return
	}

	action, err := s.ctrl.Approve(c.Param("id"), *body.Approve)
	if errors.Is(err, execute.ErrActionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending action with that id"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.hub != nil {
		s.hub.Broadcast("approval", action)
	}
	c.JSON(http.StatusOK, gin.H{"action": action})
}

func (s *Server) handleRunCycles(c *gin.Context) {
	var body struct {
		Cycles int `json:"cycles"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	if body.Cycles < 1 {
		body.Cycles = 1
	}
	if body.Cycles > maxCyclesPerRequest {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many cycles requested"})
		return
	}

	for i := 0; i < body.Cycles; i++ {
		snapshot, err := s.ctrl.RunCycle(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if s.hub != nil {
			s.hub.Broadcast("snapshot", snapshot)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"cycles_run":        body.Cycles,
		"pending_approvals": len(s.ctrl.PendingApprovals()),
	})
}

func (s *Server) handleScenario(c *gin.Context) {
	var body struct {
		Scenario string `json:"scenario" binding:"required"`
		Target   string `json:"target"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must contain scenario"})
		return
	}
	if err := s.source.Inject(stream.Scenario(body.Scenario), body.Target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.hub != nil {
		s.hub.Broadcast("scenario", gin.H{"scenario": body.Scenario, "target": body.Target})
	}
	c.JSON(http.StatusOK, gin.H{"scenario": body.Scenario, "target": body.Target})
}

func (s *Server) handleClearScenario(c *gin.Context) {
	s.source.Clear()
	if s.hub != nil {
		s.hub.Broadcast("scenario", gin.H{"scenario": "", "target": ""})
	}
	c.JSON(http.StatusOK, gin.H{"scenario": ""})
}

func (s *Server) handleSocket(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "live feed disabled"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := newClient(s.hub, conn, s.logger)
	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}
