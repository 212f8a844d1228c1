package echoapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/attendance"
	"github.com/trezcool/classledger/core/class"
	"github.com/trezcool/classledger/core/user"
	logsvc "github.com/trezcool/classledger/services/logger"
	testutil "github.com/trezcool/classledger/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type stateErr struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

// testApp is a server on an in-memory store, with an anti-forgery token already issued.
type testApp struct {
	Server
	conf  *core.Config
	store *testutil.Store
	csrf  *http.Cookie
}

func newTestConfig() *core.Config {
	return &core.Config{
		AppName:  "ClassLedger",
		Env:      "TEST",
		TestMode: true,
		Server: core.ServerConfig{
			Address:            ":0",
			JWTExpirationDelta: 10 * time.Minute,
		},
		SecretKey:  "secret",
		Attendance: testutil.AttendanceConfig(),
	}
}

func setup(t *testing.T) *testApp {
	conf := newTestConfig()
	store := testutil.NewStore()
	logger := logsvc.NewDiscardLogger()
	clock := testutil.Clock()

	usrSvc := user.NewService(store.Users)
	classSvc := class.NewService(store.Classes, store.DB, usrSvc, clock, logger)
	attSvc := attendance.NewService(store.Attendance, store.Classes, store.Ledger, store.DB, clock, conf.Attendance, logger)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	class.InitValidators(validate, translator)
	attendance.InitValidators(validate, translator)

	app := &testApp{
		Server: NewServer(ServerDeps{
			Conf:           conf,
			Logger:         logger,
			UserSvc:        usrSvc,
			ClassSvc:       classSvc,
			AttendanceSvc:  attSvc,
			Validate:       validate,
			Translator:     translator,
			DisableReqLogs: true,
		}),
		conf:  conf,
		store: store,
	}
	app.csrf = app.fetchCSRF(t)
	return app
}

// fetchCSRF asks for an anti-forgery token. The token is both the cookie value and the header value.
func (app *testApp) fetchCSRF(t *testing.T) *http.Cookie {
	req, rec := newRequest(http.MethodGet, "/v1/csrf")
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Token string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)

	for _, c := range rec.Result().Cookies() {
		if c.Name == csrfCookie {
			require.Equal(t, body.Token, c.Value)
			return c
		}
	}
	t.Fatal("fetchCSRF() failed: no csrf cookie")
	return nil
}

func (app *testApp) getToken(t *testing.T, usr user.User) string {
	token, err := GenerateToken(GetUserClaims(usr, app.conf), app.conf.SecretKey)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

// do serves an authenticated request carrying the anti-forgery token.
func (app *testApp) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	req.AddCookie(app.csrf)
	req.Header.Set(csrfHeader, app.csrf.Value)
	app.ServeHTTP(rec, req)
	return rec
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

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func assertStateErr(t *testing.T, rec *httptest.ResponseRecorder, code string) {
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	var body stateErr
	decode(t, rec, &body)
	assert.Equal(t, code, body.Code)
	assert.NotEmpty(t, body.Error)
}
