// Package mocknode is a local stand-in for the master node API.
package mocknode

import (
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"VPN-Shop-bot/config"
)

type task struct {
	ID      string  `json:"task_id"`
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Config  *string `json:"config"`
}

type configRequest struct {
	OrderID    uint   `json:"order_id"`
	RenewOf    uint   `json:"renew_of"`
	TelegramID int64  `json:"tg_id"`
	Server     string `json:"server_id"`
	Protocol   string `json:"protocol"`
}

type server struct {
	ID      string `json:"server_id"`
	Country string `json:"country"`
	PingMS  int    `json:"ping_ms"`
	Status  string `json:"status"`
	WhiteIP string `json:"white_ip"`
	Stats   string `json:"stats"`
}

var servers = []server{
	{"DE-1", "de", 20, "up", "10.0.0.11", "RAM 2G / CPU 20%"},
	{"DE-2", "de", 40, "up", "10.0.0.12", "RAM 2G / CPU 25%"},
	{"FI-1", "fi", 900, "up", "10.0.1.11", "RAM 1G / CPU 30%"},
	{"NO-1", "no", 65, "up", "10.0.2.11", "RAM 2G / CPU 18%"},
	{"NL-1", "nl", 55, "up", "10.0.3.11", "RAM 2G / CPU 22%"},
}

type Node struct {
	cfg config.MockNodeConfig
	log *zap.Logger

	mu    sync.Mutex
	tasks map[string]*task
	rnd   *rand.Rand
}

func New(cfg config.MockNodeConfig, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{
		cfg:   cfg,
		log:   log,
		tasks: make(map[string]*task),
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Echo builds the HTTP server with all master node routes.
func (n *Node) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/health", func(c echo.Context) error {
		return ok(c, map[string]string{"status": "up"})
	})
	e.GET("/servers", func(c echo.Context) error {
		return ok(c, map[string]interface{}{"servers": servers})
	})
	e.GET("/tasks/:id", n.getTask)
	e.POST("/configs/create", n.createTask(false))
	e.POST("/configs/renew", n.createTask(true))
	return e
}

func ok(c echo.Context, result interface{}) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "result": result})
}

func (n *Node) getTask(c echo.Context) error {
	n.mu.Lock()
	t, found := n.tasks[c.Param("id")]
	var snapshot task
	if found {
		snapshot = *t
	}
	n.mu.Unlock()
	if !found {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"ok": false, "error": "task_not_found"})
	}
	return ok(c, snapshot)
}

func (n *Node) createTask(renew bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req configRequest
		_ = c.Bind(&req)

		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		msg := "Task accepted"
		if renew {
			msg = "Renew task accepted"
		}
		n.mu.Lock()
		n.tasks[id] = &task{ID: id, Status: "pending", Message: msg}
		n.mu.Unlock()
		n.log.Info("task accepted", zap.String("task_id", id), zap.Bool("renew", renew), zap.Int64("tg_id", req.TelegramID))

		time.AfterFunc(n.cfg.TaskDelay, func() { n.finish(id, req, renew) })
		return ok(c, map[string]string{"task_id": id})
	}
}

func (n *Node) finish(id string, req configRequest, renew bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, found := n.tasks[id]
	if !found {
		return
	}
	if n.cfg.FailRate > 0 && n.rnd.Float64() < n.cfg.FailRate {
		t.Status = "failed"
		t.Message = "Mock generation failed"
		return
	}

	tag := "new"
	source := req.OrderID
	if renew {
		tag = "renew"
		source = req.RenewOf
	}
	cfg := fmt.Sprintf("# MOCK VPN CONFIG (%s)\ntask_id=%s\ntg_id=%d\norder_or_source=%d\nserver=%s\nprotocol=%s\ngenerated_at=%d\ntoken=%s\n",
		tag, id, req.TelegramID, source, firstNonEmpty(req.Server, "DE-1"), firstNonEmpty(req.Protocol, "wireguard"),
		time.Now().Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:24])
	t.Status = "done"
	t.Message = "Config generated"
	t.Config = &cfg
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
