package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/workq"
	"github.com/GriffinCanCode/kcore/internal/shared/validate"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EchoRequest schedules a message to be written to a pipe from the system
// work queue.
type EchoRequest struct {
	Message string `json:"message" binding:"required"`
	Pipe    string `json:"pipe"`
	DelayMS int    `json:"delay_ms"`
}

// ListWorkQueues lists work queues
func (h *Handlers) ListWorkQueues(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queues": h.kernel.WorkQueues()})
}

// Echo submits delayed work that writes a message to a pipe
func (h *Handlers) Echo(c *gin.Context) {
	var req EchoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}
	if req.Pipe == "" {
		req.Pipe = "console"
	}
	if err := validate.Message(req.Message); err != nil {
		h.fail(c, err, nil)
		return
	}
	if req.DelayMS < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "delay_ms must not be negative"})
		return
	}
	p, ok := h.kernel.Pipe(req.Pipe)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   fmt.Sprintf("pipe %q not found", req.Pipe),
		})
		return
	}

	msg := []byte(req.Message)
	accepted := time.Now()
	d := workq.NewDelayedWork(func(*workq.Work) {
		n, err := p.Put(msg, 0, clock.NoWait)
		if err != nil || n < len(msg) {
			h.logger.Warn("echo truncated",
				zap.String("pipe", p.Name()),
				zap.Int("written", n),
				zap.Int("size", len(msg)),
				zap.Error(err),
			)
		}
		h.tracer.Event("workq.echo", p.Name(), err, "lag", time.Since(accepted).String())
	})

	q := h.kernel.SysWorkQ()
	if err := q.SubmitDelayed(d, clock.Millis(req.DelayMS)); err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"queue":   q.Name(),
		"pipe":    p.Name(),
		"delay":   (time.Duration(req.DelayMS) * time.Millisecond).String(),
	})
}
