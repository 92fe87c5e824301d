package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/GriffinCanCode/kcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kcore/internal/kernel"
	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	chunkSize    = 4096
	pollInterval = 250 * time.Millisecond
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: chunkSize,
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by the CORS middleware
	},
}

// Tap manages pipe tap connections
type Tap struct {
	kernel  *kernel.Kernel
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewTap creates a tap handler
func NewTap(k *kernel.Kernel, metrics *monitoring.Metrics, logger *zap.Logger) *Tap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tap{kernel: k, metrics: metrics, logger: logger}
}

type conn struct {
	ws      *websocket.Conn
	mu      sync.Mutex
	metrics *monitoring.Metrics
}

func (c *conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(v); err != nil {
		return err
	}
	c.metrics.RecordWSMessage("out", "text")
	return nil
}

func (c *conn) sendData(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return err
	}
	c.metrics.RecordWSMessage("out", "binary")
	return nil
}

// Handle upgrades the request and forwards pipe data until the client
// disconnects or the pipe fails.
func (t *Tap) Handle(c *gin.Context) {
	name := c.Param("name")
	p, ok := t.kernel.Pipe(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   fmt.Sprintf("pipe %q not found", name),
		})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		t.logger.Warn("WebSocket upgrade failed", zap.String("pipe", name), zap.Error(err))
		return
	}
	defer ws.Close()

	t.metrics.IncWSConnections()
	defer t.metrics.DecWSConnections()

	cn := &conn{ws: ws, metrics: t.metrics}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go t.readLoop(ctx, cancel, cn)

	if err := cn.send(gin.H{"type": "system", "pipe": p.Stats()}); err != nil {
		return
	}
	t.logger.Debug("pipe tap attached", zap.String("pipe", name))

	buf := make([]byte, chunkSize)
	for ctx.Err() == nil {
		n, err := p.GetContext(ctx, buf, 1, clock.After(pollInterval))
		if n > 0 {
			if werr := t.forward(name, buf[:n], cn.sendData); werr != nil {
				return
			}
		}
		switch {
		case err == nil, errors.Is(err, errno.EAGAIN):
		case ctx.Err() != nil:
			return
		default:
			_ = cn.send(gin.H{"type": "error", "error": err.Error(), "errno": errno.Name(err)})
			return
		}
	}
}

// forward sends bytes already taken from the pipe. They cannot be put back,
// so a failed send loses them.
func (t *Tap) forward(pipe string, b []byte, send func([]byte) error) error {
	if err := send(b); err != nil {
		t.logger.Warn("pipe tap dropped bytes", zap.String("pipe", pipe), zap.Int("bytes", len(b)), zap.Error(err))
		return err
	}
	return nil
}

// readLoop answers pings and cancels the tap when the client goes away.
func (t *Tap) readLoop(ctx context.Context, cancel context.CancelFunc, cn *conn) {
	defer cancel()
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := cn.ws.ReadJSON(&msg); err != nil {
			return
		}
		t.metrics.RecordWSMessage("in", msg.Type)
		switch msg.Type {
		case "ping":
			if err := cn.send(gin.H{"type": "pong"}); err != nil {
				return
			}
		default:
			_ = cn.send(gin.H{"type": "error", "error": "unknown message type"})
		}
		if ctx.Err() != nil {
			return
		}
	}
}
