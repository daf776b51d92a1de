package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/siteauth/internal/domain"
	"github.com/fernwood/siteauth/internal/email"
	"github.com/fernwood/siteauth/internal/repository/memory"
	"github.com/fernwood/siteauth/internal/service"
	"github.com/fernwood/siteauth/internal/token"
	"github.com/fernwood/siteauth/pkg/health"
	"github.com/fernwood/siteauth/pkg/logger"
)

const (
	testMasterKey = "test-master-key"
	goodPassword  = "Sw0rdfish42"
)

// recordingMailer captures the tokens that would have been emailed.
type recordingMailer struct {
	mu           sync.Mutex
	verification map[string]string // recipient -> token
	reset        map[string]string
	change       map[string]string
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{
		verification: make(map[string]string),
		reset:        make(map[string]string),
		change:       make(map[string]string),
	}
}

func (m *recordingMailer) SendVerification(_ context.Context, _ *domain.Site, to, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verification[to] = tok
	return nil
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, _ *domain.Site, to, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset[to] = tok
	return nil
}

func (m *recordingMailer) SendEmailChange(_ context.Context, _ *domain.Site, to, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.change[to] = tok
	return nil
}

func (m *recordingMailer) verificationToken(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verification[to]
}

func (m *recordingMailer) resetToken(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reset[to]
}

func (m *recordingMailer) changeToken(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.change[to]
}

var _ email.Mailer = (*recordingMailer)(nil)

type noopPublisher struct{}

func (noopPublisher) PublishUserRegistered(context.Context, *domain.User) error { return nil }
func (noopPublisher) PublishUserVerified(context.Context, *domain.User) error   { return nil }
func (noopPublisher) PublishPasswordReset(context.Context, *domain.User) error  { return nil }
func (noopPublisher) PublishEmailChanged(context.Context, *domain.User, string) error {
	return nil
}
func (noopPublisher) PublishUserDeleted(context.Context, *domain.User) error { return nil }

type apiFixture struct {
	router      http.Handler
	mailer      *recordingMailer
	site        *domain.Site
	authService *service.AuthService
	siteService *service.SiteService
	log         *slog.Logger
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	log := logger.NewWithWriter("siteauth-test", "error", io.Discard)

	siteRepo := memory.NewSiteRepository()
	userRepo := memory.NewUserRepository()
	tokenRepo := memory.NewTokenRepository()

	mailer := newRecordingMailer()
	ledger := token.NewLedger(tokenRepo, token.DefaultTTLs())

	siteService := service.NewSiteService(siteRepo, log)
	authService := service.NewAuthService(
		siteRepo, userRepo, ledger, mailer, noopPublisher{}, service.Limiters{},
		service.AuthConfig{RequireVerifiedLogin: false}, log,
	)

	site, err := siteService.Create(context.Background(), service.CreateSiteInput{
		Name:        "Fernwood Shop",
		Domain:      "shop.example.com",
		FrontendURL: "https://shop.example.com",
	})
	require.NoError(t, err)

	router := NewRouter(authService, siteService, health.NewHandler(), RouterConfig{
		MasterKey:   testMasterKey,
		Environment: "development",
	}, log)

	return &apiFixture{
		router:      router,
		mailer:      mailer,
		site:        site,
		authService: authService,
		siteService: siteService,
		log:         log,
	}
}

// do sends a JSON request through the router and returns the recorder.
func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func adminKey() map[string]string {
	return map[string]string{"X-API-Key": testMasterKey}
}

// decodeData unmarshals the data envelope of a response into dst.
func decodeData(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func (f *apiFixture) register(t *testing.T, emailAddr string) userResponse {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"site_id":  f.site.ID.String(),
		"email":    emailAddr,
		"password": goodPassword,
	}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var user userResponse
	decodeData(t, rr, &user)
	return user
}

func (f *apiFixture) login(t *testing.T, emailAddr, password string) sessionResponse {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"site_id":  f.site.ID.String(),
		"email":    emailAddr,
		"password": password,
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var sess sessionResponse
	decodeData(t, rr, &sess)
	return sess
}

func TestRegister_CreatesUnverifiedUser(t *testing.T) {
	f := newAPIFixture(t)

	user := f.register(t, "Alice@Example.com")

	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, f.site.ID.String(), user.SiteID)
	assert.False(t, user.Verified)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.NotEmpty(t, f.mailer.verificationToken("alice@example.com"))
}

func TestRegister_DuplicateEmail_Conflict(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com")

	rr := f.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"site_id":  f.site.ID.String(),
		"email":    "ALICE@example.com",
		"password": goodPassword,
	}, nil)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "CONFLICT", errorCode(t, rr))
}

func TestRegister_MissingFields_BadRequest(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"site_id": f.site.ID.String(),
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegister_WrongContentType_Unsupported(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader([]byte(`email=x`)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestRegister_UnknownSite_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"site_id":  "3b6f8f9a-7a9f-4a47-9c1e-111111111111",
		"email":    "alice@example.com",
		"password": goodPassword,
	}, nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLogin_ReturnsSession(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com")

	sess := f.login(t, "alice@example.com", goodPassword)

	assert.NotEmpty(t, sess.Token)
	assert.NotZero(t, sess.ExpiresAt)
	assert.Equal(t, "alice@example.com", sess.User.Email)
}

func TestLogin_WrongPassword_SameAsUnknownUser(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com")

	wrongPW := f.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"site_id":  f.site.ID.String(),
		"email":    "alice@example.com",
		"password": "Wr0ngPassword",
	}, nil)
	unknown := f.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"site_id":  f.site.ID.String(),
		"email":    "nobody@example.com",
		"password": goodPassword,
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, wrongPW.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrongPW.Body.String(), unknown.Body.String())
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, wrongPW))
}

func TestMe_RequiresSession(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com")
	sess := f.login(t, "alice@example.com", goodPassword)

	authed := f.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(sess.Token))
	require.Equal(t, http.StatusOK, authed.Code)
	var user userResponse
	decodeData(t, authed, &user)
	assert.Equal(t, "alice@example.com", user.Email)

	missing := f.do(t, http.MethodGet, "/api/v1/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, missing.Code)

	garbage := f.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer("not-a-real-token"))
	assert.Equal(t, http.StatusUnauthorized, garbage.Code)
	assert.Equal(t, "TOKEN_INVALID", errorCode(t, garbage))
}

func TestLogout_InvalidatesSession(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com")
	sess := f.login(t, "alice@example.com", goodPassword)

	rr := f.do(t, http.MethodPost, "/api/v1/auth/logout", nil, bearer(sess.Token))
	require.Equal(t, http.StatusOK, rr.Code)

	after := f.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(sess.Token))
	assert.Equal(t, http.StatusUnauthorized, after.Code)
}

func TestVerifyEmail_FlowAndSingleUse(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com")
	tok := f.mailer.verificationToken("alice@example.com")
	require.NotEmpty(t, tok)

	check := f.do(t, http.MethodPost, "/api/v1/auth/check-verification-token", map[string]string{"token": tok}, nil)
	require.Equal(t, http.StatusOK, check.Code)
	var checked struct {
		Valid bool   `json:"valid"`
		Email string `json:"email"`
	}
	decodeData(t, check, &checked)
	assert.True(t, checked.Valid)
	assert.Equal(t, "alice@example.com", checked.Email)

	rr := f.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": tok}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var user userResponse
	decodeData(t, rr, &user)
	assert.True(t, user.Verified)

	again := f.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": tok}, nil)
	assert.Equal(t, http.StatusUnauthorized, again.Code)
	assert.Equal(t, "TOKEN_INVALID", errorCode(t, again))
}

func TestPasswordReset_FullFlow(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com")

	rr := f.do(t, http.MethodPost, "/api/v1/auth/request-password-reset", map[string]string{
		"site_id": f.site.ID.String(),
		"email":   "alice@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	tok := f.mailer.resetToken("alice@example.com")
	require.NotEmpty(t, tok)

	const newPassword = "N3wPassword99"
	reset := f.do(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{
		"token":        tok,
		"new_password": newPassword,
	}, nil)
	require.Equal(t, http.StatusOK, reset.Code, reset.Body.String())

	// Old password is dead, the new one works.
	old := f.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"site_id":  f.site.ID.String(),
		"email":    "alice@example.com",
		"password": goodPassword,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, old.Code)
	f.login(t, "alice@example.com", newPassword)
}

func TestPasswordReset_UnknownEmail_SilentOK(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/auth/request-password-reset", map[string]string{
		"site_id": f.site.ID.String(),
		"email":   "ghost@example.com",
	}, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, f.mailer.resetToken("ghost@example.com"))
}

func TestChangePassword_RotatesSession(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com")
	sess := f.login(t, "alice@example.com", goodPassword)

	const newPassword = "N3wPassword99"
	rr := f.do(t, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": goodPassword,
		"new_password":     newPassword,
	}, bearer(sess.Token))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var fresh sessionResponse
	decodeData(t, rr, &fresh)
	require.NotEmpty(t, fresh.Token)
	assert.NotEqual(t, sess.Token, fresh.Token)

	// The old session is revoked, the returned one works.
	old := f.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(sess.Token))
	assert.Equal(t, http.StatusUnauthorized, old.Code)
	current := f.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(fresh.Token))
	assert.Equal(t, http.StatusOK, current.Code)
}

func TestChangePassword_WrongCurrent_Unauthorized(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com")
	sess := f.login(t, "alice@example.com", goodPassword)

	rr := f.do(t, http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": "Wr0ngPassword",
		"new_password":     "N3wPassword99",
	}, bearer(sess.Token))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestEmailChange_FullFlow(t *testing.T) {
	f := newAPIFixture(t)
	f.register(t, "alice@example.com")
	sess := f.login(t, "alice@example.com", goodPassword)

	rr := f.do(t, http.MethodPost, "/api/v1/auth/request-email-change", map[string]string{
		"new_email": "alice@fernwood.dev",
		"password":  goodPassword,
	}, bearer(sess.Token))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// The confirmation goes to the new address.
	tok := f.mailer.changeToken("alice@fernwood.dev")
	require.NotEmpty(t, tok)

	confirm := f.do(t, http.MethodPost, "/api/v1/auth/confirm-email-change", map[string]string{"token": tok}, nil)
	require.Equal(t, http.StatusOK, confirm.Code, confirm.Body.String())
	var user userResponse
	decodeData(t, confirm, &user)
	assert.Equal(t, "alice@fernwood.dev", user.Email)

	// Login works with the new address only.
	f.login(t, "alice@fernwood.dev", goodPassword)
	old := f.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"site_id":  f.site.ID.String(),
		"email":    "alice@example.com",
		"password": goodPassword,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, old.Code)
}

func TestSiteByDomain_PublicShape(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/sites/by-domain?domain=SHOP.example.com", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var site publicSiteResponse
	decodeData(t, rr, &site)
	assert.Equal(t, f.site.ID.String(), site.ID)
	assert.Equal(t, "shop.example.com", site.Domain)
	assert.NotContains(t, rr.Body.String(), "email_from")
}

func TestSiteByDomain_MissingParam_BadRequest(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/sites/by-domain", nil, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSiteByDomain_Unknown_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/sites/by-domain?domain=nope.example.com", nil, nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	live := f.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, live.Code)

	ready := f.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, ready.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/metrics", nil, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_UnknownRoute_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/nope", nil, nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRegister_ManyUsersIndependent(t *testing.T) {
	f := newAPIFixture(t)

	for i := 0; i < 5; i++ {
		f.register(t, fmt.Sprintf("user%d@example.com", i))
	}

	rr := f.do(t, http.MethodGet, "/api/v1/admin/sites/"+f.site.ID.String()+"/users", nil, adminKey())
	require.Equal(t, http.StatusOK, rr.Code)

	var users []userResponse
	decodeData(t, rr, &users)
	assert.Len(t, users, 5)
}
