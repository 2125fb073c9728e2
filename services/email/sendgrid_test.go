package emailsvc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/testutil"
)

type sgPayload struct {
	From struct {
		Email string `json:"email"`
	} `json:"from"`
	Personalizations []struct {
		To []struct {
			Email string `json:"email"`
		} `json:"to"`
		Subject string `json:"subject"`
	} `json:"personalizations"`
	Categories []string `json:"categories"`
	Content    []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
	Attachments []struct {
		Content  string `json:"content"`
		Filename string `json:"filename"`
		Type     string `json:"type"`
	} `json:"attachments"`
}

// newSendgridTest points the service at a local server answering with the given status codes in turn.
func newSendgridTest(t *testing.T, statuses ...int) (*sendgridService, *int32, *sgPayload) {
	var (
		calls   int32
		payload sgPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(statuses[int(n-1)%len(statuses)])
	}))
	t.Cleanup(srv.Close)

	origHost, origDelay := sendgridHost, sendgridRetryDelay
	sendgridHost, sendgridRetryDelay = srv.URL, time.Millisecond
	t.Cleanup(func() { sendgridHost, sendgridRetryDelay = origHost, origDelay })

	conf := testutil.NewConfig()
	conf.SendgridApiKey = "sg-key"
	return NewSendgridService(conf, testutil.NewLogger(conf)), &calls, &payload
}

func newTestMessage(t *testing.T) *core.EmailMessage {
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: "Head Teacher", Address: "head@school.test"}},
		Subject:      "Term started",
		BodyStr:      "Term 1 2026 has started.",
		TemplateName: "term_started",
	}
	require.NoError(t, msg.Attach(bytes.NewReader([]byte("studentName\nAmani\n")), "promotion-1.csv", "text/csv"))
	return msg
}

func Test_sendgridService_deliver(t *testing.T) {
	svc, calls, payload := newSendgridTest(t, http.StatusAccepted)

	require.NoError(t, svc.deliver(newTestMessage(t)))
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))

	require.Len(t, payload.Personalizations, 1)
	assert.Equal(t, svc.prefix+"Term started", payload.Personalizations[0].Subject)
	require.Len(t, payload.Personalizations[0].To, 1)
	assert.Equal(t, "head@school.test", payload.Personalizations[0].To[0].Email)
	assert.Equal(t, []string{"term_started"}, payload.Categories)
	require.NotEmpty(t, payload.Content)
	assert.Equal(t, "text/plain", payload.Content[0].Type)
	assert.Equal(t, "Term 1 2026 has started.", payload.Content[0].Value)

	require.Len(t, payload.Attachments, 1)
	assert.Equal(t, "promotion-1.csv", payload.Attachments[0].Filename)
	assert.Equal(t, "text/csv", payload.Attachments[0].Type)
	assert.Equal(t, "c3R1ZGVudE5hbWUKQW1hbmkK", payload.Attachments[0].Content)
}

func Test_sendgridService_retries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantErr   bool
		wantCalls int32
	}{
		{name: "rate limited then accepted", statuses: []int{http.StatusTooManyRequests, http.StatusAccepted}, wantCalls: 2},
		{name: "server errors exhaust the attempts", statuses: []int{http.StatusServiceUnavailable}, wantErr: true, wantCalls: int32(sendgridAttempts)},
		{name: "bad request is not retried", statuses: []int{http.StatusBadRequest}, wantErr: true, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, calls, _ := newSendgridTest(t, tt.statuses...)
			err := svc.deliver(newTestMessage(t))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(calls))
		})
	}
}

func Test_sendgridService_deliver_noRecipients(t *testing.T) {
	svc, calls, _ := newSendgridTest(t, http.StatusAccepted)
	msg := newTestMessage(t)
	msg.To = nil

	require.NoError(t, svc.deliver(msg))
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
}
