package echoapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
	"github.com/amboseli-lewis/sms/core/term"
	"github.com/amboseli-lewis/sms/core/user"
	emailsvc "github.com/amboseli-lewis/sms/services/email"
	inmemdb "github.com/amboseli-lewis/sms/storage/database/inmem"
	"github.com/amboseli-lewis/sms/testutil"
)

var (
	conf    *core.Config
	usrRepo user.Repository
	store   *inmemdb.Store

	errUnauthorizedData = httpErr{Error: "Unauthorized"}
)

func setup(t *testing.T) *Server {
	conf = testutil.NewConfig()
	logger := testutil.NewLogger(conf)
	validate, translator := testutil.NewValidator()
	core.ParseEmailTemplates(conf, logger)
	emailsvc.ResetSentMessages()

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo = inmemdb.NewUserRepository(db)
	store = inmemdb.NewStore(db)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	termSvc := term.NewService(store, validate, mailSvc, logger, term.Options{
		MaxWait: time.Second,
		Timeout: 5 * time.Second,
	})

	// set up server
	return NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		UserSvc:        user.NewService(usrRepo, validate),
		SchoolSvc:      school.NewService(store, validate, logger),
		TermSvc:        termSvc,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

// newUploadRequest builds a multipart request; an empty filename sends no file part.
func newUploadRequest(t *testing.T, path, token, classID, filename string, content []byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField(importClassField, classID))
	if filename != "" {
		part, err := w.CreateFormFile(importFileField, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req, httptest.NewRecorder()
}

func getToken(t *testing.T, usr user.User, origIat ...int64) string {
	token, err := GenerateToken(conf, GetUserClaims(conf, usr, origIat...))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarchall(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// runHTTPTests runs table tests against the server; tests without wantData only check the code.
func runHTTPTests(t *testing.T, server *Server, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			server.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

// createUsers creates an active admin, an active staff and a deactivated admin.
func createUsers(t *testing.T) (admin, staff, inactive user.User) {
	admin = testutil.CreateUser(t, usrRepo, "Head Teacher", "head@school.test", testutil.StrongPassword, user.RoleAdmin, true)
	staff = testutil.CreateUser(t, usrRepo, "Class Teacher", "teacher@school.test", testutil.StrongPassword, user.RoleStaff, true)
	inactive = testutil.CreateUser(t, usrRepo, "Former Head", "former@school.test", testutil.StrongPassword, user.RoleAdmin, false)
	return admin, staff, inactive
}
