package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/siteauth/internal/domain"
	"github.com/fernwood/siteauth/internal/repository"
	"github.com/fernwood/siteauth/internal/repository/memory"
	"github.com/fernwood/siteauth/internal/service"
	"github.com/fernwood/siteauth/internal/token"
	"github.com/fernwood/siteauth/pkg/health"
	"github.com/fernwood/siteauth/pkg/logger"
)

// brokenUserRepo fails every email lookup so handlers hit the 500 path.
type brokenUserRepo struct {
	repository.UserRepository
}

func (brokenUserRepo) GetByEmail(context.Context, uuid.UUID, string) (*domain.User, error) {
	return nil, errors.New("user lookup failed")
}

// The request-scoped logger must be built after the correlation ID lands in
// context, so server-side failure logs can be joined to the request.
func TestRouter_InternalErrorLogCarriesCorrelationID(t *testing.T) {
	var logBuf bytes.Buffer
	log := logger.NewWithWriter("siteauth-test", "error", &logBuf)

	siteRepo := memory.NewSiteRepository()
	ledger := token.NewLedger(memory.NewTokenRepository(), token.DefaultTTLs())

	siteService := service.NewSiteService(siteRepo, log)
	authService := service.NewAuthService(
		siteRepo, brokenUserRepo{memory.NewUserRepository()}, ledger,
		newRecordingMailer(), noopPublisher{}, service.Limiters{},
		service.AuthConfig{}, log,
	)

	site, err := siteService.Create(context.Background(), service.CreateSiteInput{
		Name:        "Fernwood Shop",
		Domain:      "shop.example.com",
		FrontendURL: "https://shop.example.com",
	})
	require.NoError(t, err)

	router := NewRouter(authService, siteService, health.NewHandler(), RouterConfig{
		Environment: "development",
	}, log)

	body, err := json.Marshal(map[string]string{
		"site_id": site.ID.String(),
		"email":   "alice@example.com",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/request-password-reset", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", "corr-123")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code, rr.Body.String())
	assert.Equal(t, "corr-123", rr.Header().Get("X-Correlation-ID"))

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(logBuf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] != "internal error" {
			continue
		}
		found = true
		assert.Equal(t, "corr-123", entry["correlation_id"])
	}
	require.True(t, found, "expected an internal error log line")
}
