package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"authkit/internal/auth"
	"authkit/internal/domain"
	"authkit/internal/repository"
	"authkit/internal/repository/sqlstore"
	"authkit/internal/service"
)

type testServer struct {
	router *gin.Engine
	users  repository.UserRepository
	tokens *auth.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlstore.Migrate(context.Background(), db, nil))

	users := sqlstore.NewUserRepository(db.DB, db.Dialect)
	tokens, err := auth.NewTokenIssuer("api-test-secret", time.Hour)
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()

	svc := service.NewAuthService(users, auth.NewBcryptHasher(bcrypt.MinCost), tokens, logger)
	router := gin.New()
	router.Use(gin.Recovery())
	NewHandler(svc, logger, nil).RegisterRoutes(router)

	return &testServer{router: router, users: users, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) registerAndLogin(t *testing.T, email, password string) string {
	t.Helper()
	creds := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	rec := s.do(t, http.MethodPost, "/register", creds, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/login", creds, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestExampleFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/register", `{"email":"a@x.com","password":"pw123"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, decode(t, rec)["msg"], "a@x.com")

	rec = s.do(t, http.MethodPost, "/login", `{"email":"a@x.com","password":"pw123"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	user := body["user"].(map[string]any)
	assert.Equal(t, "a@x.com", user["email"])
	assert.NotZero(t, user["id"])

	identity, err := s.tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", identity.Subject)

	rec = s.do(t, http.MethodGet, "/private", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	priv := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, "a@x.com", priv["email"])
	assert.Equal(t, true, priv["is_active"])
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "$2")
}

func TestRegister_MissingFields(t *testing.T) {
	s := newTestServer(t)

	cases := map[string]string{
		`{"password":"pw"}`:               "email is required",
		`{"email":"a@x.com"}`:             "password is required",
		`{"email":"","password":"pw"}`:    "email is required",
		`{"email":"   ","password":"pw"}`: "email is required",
		`{"email":5,"password":"pw"}`:     "email must be a string",
		`[1,2]`:                           "request body must be a JSON object",
		``:                                "request body must be a JSON object",
		`{"email":"a@x.com","password":"pw","name":"abcdefghijklmnopqrstu"}`: "name must be at most 20 characters",
	}
	for body, want := range cases {
		rec := s.do(t, http.MethodPost, "/register", body, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, want, decode(t, rec)["msg"], body)
	}
}

func TestRegister_FieldLengths(t *testing.T) {
	s := newTestServer(t)

	longEmail := strings.Repeat("a", 140) + "@x.com"
	rec := s.do(t, http.MethodPost, "/register", fmt.Sprintf(`{"email":%q,"password":"pw"}`, longEmail), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email must be at most 120 characters", decode(t, rec)["msg"])

	// exactly at the limit is stored
	maxEmail := strings.Repeat("b", 114) + "@x.com"
	rec = s.do(t, http.MethodPost, "/register", fmt.Sprintf(`{"email":%q,"password":"pw"}`, maxEmail), "")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// the name limit applies after trimming
	rec = s.do(t, http.MethodPost, "/register", `{"email":"pad@x.com","password":"pw","name":"   ada                   "}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/login", `{"email":"pad@x.com","password":"pw"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode(t, rec)["token"].(string)
	rec = s.do(t, http.MethodGet, "/private", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada", decode(t, rec)["user"].(map[string]any)["name"])
}

func TestRegister_Duplicate(t *testing.T) {
	s := newTestServer(t)

	body := `{"email":"a@x.com","password":"pw123"}`
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/register", body, "").Code)

	rec := s.do(t, http.MethodPost, "/register", body, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "user already exists", decode(t, rec)["msg"])
}

func TestRegister_ConcurrentDuplicates(t *testing.T) {
	s := newTestServer(t)

	const n = 8
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = s.do(t, http.MethodPost, "/register", `{"email":"race@x.com","password":"pw"}`, "").Code
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, conflicts)
}

func TestLogin_BadCredentialsLookIdentical(t *testing.T) {
	s := newTestServer(t)
	s.registerAndLogin(t, "a@x.com", "pw123")

	wrong := s.do(t, http.MethodPost, "/login", `{"email":"a@x.com","password":"nope"}`, "")
	unknown := s.do(t, http.MethodPost, "/login", `{"email":"ghost@x.com","password":"pw123"}`, "")

	assert.Equal(t, http.StatusBadRequest, wrong.Code)
	assert.Equal(t, wrong.Code, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestLogin_MissingFields(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/login", `{"email":"a@x.com"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password is required", decode(t, rec)["msg"])
}

func TestProtected(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "a@x.com", "pw123")

	rec := s.do(t, http.MethodGet, "/protected", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["msg"], "a@x.com")

	rec = s.do(t, http.MethodGet, "/protected", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing bearer token", decode(t, rec)["msg"])

	rec = s.do(t, http.MethodGet, "/protected", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtected_NonBearerScheme(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "a@x.com", "pw123")

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPrivate_DeletedUser(t *testing.T) {
	s := newTestServer(t)
	token := s.registerAndLogin(t, "a@x.com", "pw123")

	user, err := s.users.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.NoError(t, s.users.Delete(context.Background(), user.ID))

	rec := s.do(t, http.MethodGet, "/private", "", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "user not found", decode(t, rec)["msg"])

	// token-only guard still accepts it
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/protected", "", token).Code)
}

func TestPrivate_ExpiredToken(t *testing.T) {
	s := newTestServer(t)
	s.registerAndLogin(t, "a@x.com", "pw123")

	expired, err := auth.NewTokenIssuer("api-test-secret", time.Nanosecond)
	require.NoError(t, err)
	token, err := expired.Issue("a@x.com", 1)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)

	rec := s.do(t, http.MethodGet, "/private", "", token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetUser(t *testing.T) {
	s := newTestServer(t)
	tokenA := s.registerAndLogin(t, "a@x.com", "pw123")
	s.registerAndLogin(t, "b@x.com", "pw456")

	b, err := s.users.GetByEmail(context.Background(), "b@x.com")
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, fmt.Sprintf("/users/%d", b.ID), "", tokenA)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), b.PasswordHash)

	body := decode(t, rec)
	result := body["result"].(map[string]any)
	assert.Equal(t, "b@x.com", result["email"])

	// the refreshed token belongs to the caller
	refreshed, _ := body["token"].(string)
	identity, err := s.tokens.Verify(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", identity.Subject)

	rec = s.do(t, http.MethodGet, "/users/9999", "", tokenA)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/users/abc", "", tokenA)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/users/%d", b.ID), "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", "").Code)

	rec := s.do(t, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route not found", decode(t, rec)["msg"])
}

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))

	rec = s.do(t, http.MethodGet, "/health", "", "")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(nil, nil, []string{"https://app.example.com/"}).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodOptions, "/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/login", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// failingAuth returns an unclassified error from every call.
type failingAuth struct{ service.AuthService }

func (failingAuth) Register(context.Context, service.RegisterInput) (*domain.User, error) {
	return nil, errors.New("db exploded: secret detail")
}

func TestInternalErrorsAreMasked(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, hook := test.NewNullLogger()
	router := gin.New()
	NewHandler(failingAuth{}, logger, nil).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString(`{"email":"a@x.com","password":"pw"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, msgInternal, decode(t, rec)["msg"])
	assert.NotContains(t, rec.Body.String(), "secret detail")
	require.NotEmpty(t, hook.AllEntries())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(service.ErrInvalidCredentials))
	assert.Equal(t, http.StatusUnauthorized, statusFor(service.ErrInvalidToken))
	assert.Equal(t, http.StatusNotFound, statusFor(service.ErrUserNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(service.ErrUserAlreadyExists))
	assert.Equal(t, http.StatusBadRequest, statusFor(&service.Error{Kind: service.ErrValidation, Msg: "x"}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
