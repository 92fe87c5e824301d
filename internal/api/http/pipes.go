package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/GriffinCanCode/kcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/kcore/internal/kernel/clock"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/GriffinCanCode/kcore/internal/kernel/pipe"
	"github.com/gin-gonic/gin"
)

// MaxReadSize bounds a single pipe read.
const MaxReadSize = 64 << 10

// ListPipes lists pipes
func (h *Handlers) ListPipes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pipes":    h.kernel.Pipes(),
		"breakers": h.breakers.States(),
	})
}

// CreatePipe allocates a named pipe
func (h *Handlers) CreatePipe(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
		Size int    `json:"size"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	p, err := h.kernel.NewPipe(req.Name, req.Size)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "pipe": p.Stats()})
}

// DeletePipe releases a pipe
func (h *Handlers) DeletePipe(c *gin.Context) {
	name := c.Param("name")
	if err := h.kernel.RemovePipe(name); err != nil {
		h.fail(c, err, nil)
		return
	}
	h.breakers.Forget(name)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) lookup(c *gin.Context) (*pipe.Pipe, bool) {
	name := c.Param("name")
	p, ok := h.kernel.Pipe(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   fmt.Sprintf("pipe %q not found", name),
		})
	}
	return p, ok
}

// intQuery parses an optional non-negative integer query parameter.
func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("query %s=%q: %w", key, raw, errno.EINVAL)
	}
	return v, nil
}

// WritePipe writes the request body to a pipe without waiting. ?min sets
// the minimum transfer; it defaults to the whole body.
func (h *Handlers) WritePipe(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	minXfer, err := intQuery(c, "min", len(data))
	if err != nil {
		h.fail(c, err, nil)
		return
	}

	n, err := resilience.Call(h.breakers.Get(p.Name()), func() (int, error) {
		return p.Put(data, minXfer, clock.NoWait)
	})
	if err != nil {
		h.fail(c, err, gin.H{"written": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"written": n,
		"used":    p.ReadAvail(),
	})
}

// ReadPipe reads up to ?max bytes, waiting up to ?timeout_ms for at least
// ?min of them.
func (h *Handlers) ReadPipe(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	size, err := intQuery(c, "max", 256)
	if err == nil && (size == 0 || size > MaxReadSize) {
		err = fmt.Errorf("query max=%d: %w", size, errno.EINVAL)
	}
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	minXfer, err := intQuery(c, "min", 0)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	timeout, err := intQuery(c, "timeout_ms", int(h.readTimeout/time.Millisecond))
	if err != nil {
		h.fail(c, err, nil)
		return
	}

	buf := make([]byte, size)
	n, err := p.GetContext(c.Request.Context(), buf, minXfer, clock.Millis(timeout))
	body := gin.H{"read": n, "data": buf[:n]}
	if utf8.Valid(buf[:n]) {
		body["text"] = string(buf[:n])
	}
	if err != nil {
		h.fail(c, err, body)
		return
	}
	body["success"] = true
	c.JSON(http.StatusOK, body)
}

// FlushPipe discards buffered data. ?buffer_only=true keeps waiting
// writers' data.
func (h *Handlers) FlushPipe(c *gin.Context) {
	p, ok := h.lookup(c)
	if !ok {
		return
	}
	var n int
	if c.Query("buffer_only") == "true" {
		n = p.BufferFlush()
	} else {
		n = p.Flush()
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "discarded": n})
}
