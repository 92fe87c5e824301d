package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/GriffinCanCode/kcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/kcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/kcore/internal/kernel"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Version is reported by the root and health endpoints.
const Version = "0.3.0"

// Handlers contains all admin HTTP handlers
type Handlers struct {
	kernel      *kernel.Kernel
	metrics     *monitoring.Metrics
	tracer      *tracing.Tracer
	breakers    *resilience.Group
	readTimeout time.Duration
	logger      *zap.Logger
}

// Options configures Handlers.
type Options struct {
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer
	// ReadTimeout is the default wait of a pipe read.
	ReadTimeout time.Duration
	// Breaker configures the per-pipe write breakers.
	Breaker resilience.Settings
	Logger  *zap.Logger
}

// DefaultBreakerSettings trips a pipe's write breaker after 8 consecutive
// writes to a full pipe and probes again after a second.
func DefaultBreakerSettings() resilience.Settings {
	return resilience.Settings{
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     time.Second,
		IsFailure:   resilience.Backpressure,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 8
		},
	}
}

// NewHandlers creates a new handler set
func NewHandlers(k *kernel.Kernel, opts Options) *Handlers {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 100 * time.Millisecond
	}
	if opts.Breaker.IsFailure == nil {
		opts.Breaker = DefaultBreakerSettings()
	}
	logger := opts.Logger
	settings := opts.Breaker
	settings.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("pipe write breaker",
			zap.String("pipe", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &Handlers{
		kernel:      k,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		breakers:    resilience.NewGroup(settings),
		readTimeout: opts.ReadTimeout,
		logger:      logger,
	}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "kcore",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	q := h.kernel.SysWorkQ().Stats()
	status, code := "healthy", http.StatusOK
	if !q.Started {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":   status,
		"version":  Version,
		"uptime":   h.kernel.Clock().Uptime().String(),
		"threads":  h.kernel.Threads().Count(),
		"sysworkq": q,
	})
}

// Stats returns a full kernel snapshot
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.kernel.Snapshot())
}

// Traces returns recent kernel and HTTP spans
func (h *Handlers) Traces(c *gin.Context) {
	n, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	c.JSON(http.StatusOK, gin.H{
		"spans":   h.tracer.Recent(n),
		"dropped": h.tracer.Dropped(),
	})
}

// statusFor maps kernel error codes to HTTP statuses.
func statusFor(err error) int {
	var e errno.Errno
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e {
	case errno.EINVAL:
		return http.StatusBadRequest
	case errno.EADDRINUSE, errno.EALREADY:
		return http.StatusConflict
	case errno.EAGAIN:
		return http.StatusRequestTimeout
	case errno.EIO, errno.EBUSY, errno.ENODEV:
		return http.StatusServiceUnavailable
	case errno.ENOMEM:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// fail writes a kernel error response.
func (h *Handlers) fail(c *gin.Context, err error, extra gin.H) {
	body := gin.H{
		"success": false,
		"error":   err.Error(),
		"errno":   errno.Name(err),
		"code":    errno.Code(err),
	}
	for k, v := range extra {
		body[k] = v
	}
	_ = c.Error(err)
	c.Set(tracing.ErrnoKey, errno.Name(err))
	c.JSON(statusFor(err), body)
}
