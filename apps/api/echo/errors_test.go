package echoapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/amboseli-lewis/sms/core"
)

func Test_appHTTPErrorHandler(t *testing.T) {
	server := setup(t)

	tests := []struct {
		name         string
		err          error
		wantCode     int
		wantShutdown bool
	}{
		{name: "conflict", err: errors.Wrap(core.NewConflictError("taken"), "saving"), wantCode: http.StatusConflict},
		{name: "server error", err: errors.New("boom"), wantCode: http.StatusInternalServerError},
		{name: "shutdown", err: errors.Wrap(core.NewShutdownError("database unavailable"), "querying students"), wantCode: http.StatusInternalServerError, wantShutdown: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/school/classes", nil)
			rec := httptest.NewRecorder()
			server.app.HTTPErrorHandler(tt.err, server.app.NewContext(req, rec))
			assert.Equal(t, tt.wantCode, rec.Code)

			select {
			case <-server.ShutdownSignal():
				assert.True(t, tt.wantShutdown, "unexpected shutdown signal")
			case <-time.After(20 * time.Millisecond):
				assert.False(t, tt.wantShutdown, "shutdown was not signalled")
			}
		})
	}
}
