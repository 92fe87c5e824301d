package http

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/GriffinCanCode/kcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/kcore/internal/kernel/errno"
	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errno.EINVAL, http.StatusBadRequest},
		{fmt.Errorf("new pipe x: %w", errno.EADDRINUSE), http.StatusConflict},
		{errno.EALREADY, http.StatusConflict},
		{fmt.Errorf("pipe x get: %w", errno.EAGAIN), http.StatusRequestTimeout},
		{errno.EIO, http.StatusServiceUnavailable},
		{resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
		{errno.ENODEV, http.StatusServiceUnavailable},
		{errno.ENOMEM, http.StatusInsufficientStorage},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestNewHandlersDefaults(t *testing.T) {
	h := NewHandlers(nil, Options{})
	assert.Equal(t, 100*time.Millisecond, h.readTimeout)
	assert.NotNil(t, h.logger)

	b := h.breakers.Get("console")
	for i := 0; i < 7; i++ {
		_ = b.Execute(func() error { return errno.EIO })
	}
	assert.Equal(t, resilience.StateClosed, b.State())
	_ = b.Execute(func() error { return errno.EIO })
	assert.Equal(t, resilience.StateOpen, b.State())
}
