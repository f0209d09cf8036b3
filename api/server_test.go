package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/authkit/authkit/internal/auth"
	"github.com/authkit/authkit/internal/config"
	"github.com/authkit/authkit/internal/storage"
	"github.com/authkit/authkit/internal/users"
	"github.com/authkit/authkit/pkg/models"
	"github.com/authkit/authkit/pkg/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	minute := minuteRule(100)
	return &config.Config{
		HTTP: config.HTTPServerConfig{
			Host:        "127.0.0.1",
			Port:        0,
			CORSOrigins: []string{"*"},
		},
		JWT: config.JWTConfig{
			Secret:           "test-access-secret",
			RefreshSecret:    "test-refresh-secret",
			AccessTTLMinutes: 30,
			RefreshTTLDays:   7,
			Issuer:           "authkit-test",
		},
		Admin: config.AdminConfig{
			Email:    "admin@example.com",
			Username: "admin",
			Password: "Adm1n$ecret",
		},
		Password: config.PasswordConfig{
			MinLength:           8,
			RequireUppercase:    true,
			RequireLowercase:    true,
			RequireNumbers:      true,
			RequireSpecialChars: true,
		},
		RateLimit: config.RateLimitConfig{
			Enabled: true,
			Login:   minute,
			Registr: minute,
			Refresh: minute,
			General: minute,
			Profile: minute,
			Admin:   minute,
		},
		Avatar: config.AvatarConfig{
			Dir:          t.TempDir(),
			BasePath:     "/static/avatars",
			MaxBytes:     1 << 20,
			AllowedTypes: []string{"image/png", "image/jpeg", "image/webp"},
		},
		Session:  config.SessionConfig{TTL: time.Hour},
		LogLevel: "error",
	}
}

func minuteRule(limit int) config.RateLimitRule {
	return config.RateLimitRule{Limit: limit, Window: time.Minute}
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *Server {
	t.Helper()

	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.SetupJoinTable(&models.User{}, "Roles", &models.UserRole{}))
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Role{}, &models.Session{}))

	log := zap.NewNop()
	validator := validation.NewValidator(validation.PasswordPolicy{
		MinLength:           cfg.Password.MinLength,
		RequireUppercase:    cfg.Password.RequireUppercase,
		RequireLowercase:    cfg.Password.RequireLowercase,
		RequireNumbers:      cfg.Password.RequireNumbers,
		RequireSpecialChars: cfg.Password.RequireSpecialChars,
	})

	refreshStore := auth.NewMemoryRefreshStore()
	tokens, err := auth.NewTokenService(
		log, db,
		cfg.JWT.Secret, cfg.JWT.RefreshSecret,
		cfg.JWT.AccessTTL(), cfg.JWT.RefreshTTL(),
		cfg.JWT.Issuer,
		refreshStore,
	)
	require.NoError(t, err)

	sessions := auth.NewSessionManager(log, db, nil, cfg.Session.TTL)
	rbac := auth.NewRBACService(log, db)
	totpSvc := auth.NewTOTPService(log, db, cfg.JWT.Issuer)
	userService := users.NewService(log, db, validator, rbac)

	avatars, err := storage.NewAvatarStore(log, cfg.Avatar)
	require.NoError(t, err)

	require.NoError(t, userService.Bootstrap(context.Background(), cfg.Admin))

	return NewServer(log, cfg, Deps{
		DB:       db,
		Users:    userService,
		Tokens:   tokens,
		Sessions: sessions,
		RBAC:     rbac,
		TOTP:     totpSvc,
		Limiter:  auth.NewMemoryRateLimiter(),
		Avatars:  avatars,
	})
}

func doJSON(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:52428"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func registerAndLogin(t *testing.T, s *Server, email, username string) models.LoginResponse {
	t.Helper()

	w := doJSON(t, s, http.MethodPost, "/api/v1/auth/register", "", models.RegisterRequest{
		Email:    email,
		Username: username,
		Password: "Sup3r$ecret",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	return login(t, s, email, "Sup3r$ecret")
}

func login(t *testing.T, s *Server, email, password string) models.LoginResponse {
	t.Helper()

	w := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{
		Email:    email,
		Password: password,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.LoginResponse
	decodeBody(t, w, &resp)
	require.NotEmpty(t, resp.AccessToken)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var health map[string]interface{}
	decodeBody(t, w, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ok", health["database"])
	assert.Equal(t, "disabled", health["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "authkit_")
}

func TestRegisterLoginRefreshLogout(t *testing.T) {
	s := newTestServer(t)

	resp := registerAndLogin(t, s, "flow@example.com", "flowuser")
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEmpty(t, resp.SessionToken)

	w := doJSON(t, s, http.MethodGet, "/api/v1/auth/me", resp.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var me models.User
	decodeBody(t, w, &me)
	assert.Equal(t, "flow@example.com", me.Email)

	w = doJSON(t, s, http.MethodPost, "/api/v1/auth/refresh", "", models.RefreshRequest{
		RefreshToken: resp.RefreshToken,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var rotated models.TokenPair
	decodeBody(t, w, &rotated)
	assert.NotEqual(t, resp.RefreshToken, rotated.RefreshToken)

	// The consumed refresh token cannot be redeemed again.
	w = doJSON(t, s, http.MethodPost, "/api/v1/auth/refresh", "", models.RefreshRequest{
		RefreshToken: resp.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/auth/logout", rotated.AccessToken, models.RefreshRequest{
		RefreshToken: rotated.RefreshToken,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// The access token dies with its session, not at JWT expiry.
	w = doJSON(t, s, http.MethodGet, "/api/v1/sessions", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/auth/me", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRemoteLogoutRevokesAccess(t *testing.T) {
	s := newTestServer(t)
	first := registerAndLogin(t, s, "revoked@example.com", "revokeduser")
	second := login(t, s, "revoked@example.com", "Sup3r$ecret")

	w := doJSON(t, s, http.MethodGet, "/api/v1/auth/me", first.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/api/v1/sessions/"+first.SessionID.String(), second.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// The revoked device is locked out immediately, and its refresh
	// token can no longer mint new access.
	w = doJSON(t, s, http.MethodGet, "/api/v1/auth/me", first.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/auth/refresh", "", models.RefreshRequest{
		RefreshToken: first.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/auth/me", second.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeactivatedUserIsLoggedOutEverywhere(t *testing.T) {
	s := newTestServer(t)
	user := registerAndLogin(t, s, "benched@example.com", "bencheduser")
	admin := login(t, s, "admin@example.com", "Adm1n$ecret")

	w := doJSON(t, s, http.MethodGet, "/api/v1/auth/me", user.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var me models.User
	decodeBody(t, w, &me)

	inactive := false
	w = doJSON(t, s, http.MethodPut, "/api/v1/users/"+me.ID.String(), admin.AccessToken, models.UpdateUserRequest{
		IsActive: &inactive,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodGet, "/api/v1/auth/me", user.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/auth/register", "", models.RegisterRequest{
		Email:    "weak@example.com",
		Username: "weakuser",
		Password: "password",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)
	registerAndLogin(t, s, "creds@example.com", "credsuser")

	w := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{
		Email:    "creds@example.com",
		Password: "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/sessions", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminEndpointsRejectRegularUsers(t *testing.T) {
	s := newTestServer(t)
	user := registerAndLogin(t, s, "pleb@example.com", "plebuser")

	w := doJSON(t, s, http.MethodGet, "/api/v1/users", user.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := login(t, s, "admin@example.com", "Adm1n$ecret")
	w = doJSON(t, s, http.MethodGet, "/api/v1/users", admin.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminCannotDeleteSelf(t *testing.T) {
	s := newTestServer(t)
	admin := login(t, s, "admin@example.com", "Adm1n$ecret")

	w := doJSON(t, s, http.MethodGet, "/api/v1/auth/me", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var me models.User
	decodeBody(t, w, &me)

	w = doJSON(t, s, http.MethodDelete, "/api/v1/users/"+me.ID.String(), admin.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserCannotReadOtherUsers(t *testing.T) {
	s := newTestServer(t)
	alice := registerAndLogin(t, s, "alice@example.com", "aliceuser")
	bob := registerAndLogin(t, s, "bob@example.com", "bobuser")

	w := doJSON(t, s, http.MethodGet, "/api/v1/auth/me", bob.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bobUser models.User
	decodeBody(t, w, &bobUser)

	// Alice cannot read Bob; Bob can read himself.
	w = doJSON(t, s, http.MethodGet, "/api/v1/users/"+bobUser.ID.String(), alice.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/users/"+bobUser.ID.String(), bob.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoleAssignment(t *testing.T) {
	s := newTestServer(t)
	user := registerAndLogin(t, s, "mod@example.com", "moduser")
	admin := login(t, s, "admin@example.com", "Adm1n$ecret")

	w := doJSON(t, s, http.MethodGet, "/api/v1/auth/me", user.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me models.User
	decodeBody(t, w, &me)

	// Non-admins cannot assign roles.
	w = doJSON(t, s, http.MethodPost, "/api/v1/roles/assign", user.AccessToken, models.AssignRolesRequest{
		UserID: me.ID,
		Roles:  []string{models.RoleModerator},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/roles/assign", admin.AccessToken, models.AssignRolesRequest{
		UserID: me.ID,
		Roles:  []string{models.RoleModerator, models.RoleUser},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodGet, "/api/v1/users/"+me.ID.String()+"/roles", user.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var roleResp struct {
		Roles []models.Role `json:"roles"`
	}
	decodeBody(t, w, &roleResp)
	assert.Len(t, roleResp.Roles, 2)
}

func TestSessionListAndRemoteLogout(t *testing.T) {
	s := newTestServer(t)
	registerAndLogin(t, s, "multi@example.com", "multiuser")
	second := login(t, s, "multi@example.com", "Sup3r$ecret")

	w := doJSON(t, s, http.MethodGet, "/api/v1/sessions", second.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Sessions []models.SessionInfo `json:"sessions"`
	}
	decodeBody(t, w, &list)
	require.Len(t, list.Sessions, 2)

	current := 0
	for _, info := range list.Sessions {
		if info.IsCurrent {
			current++
			assert.Equal(t, second.SessionID, info.ID)
		}
	}
	assert.Equal(t, 1, current)

	w = doJSON(t, s, http.MethodDelete, "/api/v1/sessions/others", second.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/sessions", second.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &list)
	assert.Len(t, list.Sessions, 1)
}

func TestChangePasswordInvalidatesOtherSessions(t *testing.T) {
	s := newTestServer(t)
	registerAndLogin(t, s, "chpw@example.com", "chpwuser")
	second := login(t, s, "chpw@example.com", "Sup3r$ecret")

	w := doJSON(t, s, http.MethodPost, "/api/v1/users/me/password", second.AccessToken, models.ChangePasswordRequest{
		CurrentPassword: "Sup3r$ecret",
		NewPassword:     "N3w$ecret42",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodGet, "/api/v1/sessions", second.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Sessions []models.SessionInfo `json:"sessions"`
	}
	decodeBody(t, w, &list)
	assert.Len(t, list.Sessions, 1)

	login(t, s, "chpw@example.com", "N3w$ecret42")
}

func TestLoginRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Login = config.RateLimitRule{Limit: 2, Window: time.Minute}
	})

	body := models.LoginRequest{Email: "nobody@example.com", Password: "WrongPass1$"}
	for i := 0; i < 2; i++ {
		w := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Health stays reachable while the login class is saturated.
	w = doJSON(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func TestAvatarUploadAndDelete(t *testing.T) {
	s := newTestServer(t)
	user := registerAndLogin(t, s, "pic@example.com", "picuser")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("avatar", "me.png")
	require.NoError(t, err)
	_, err = part.Write(pngHeader)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/me/avatar", &buf)
	req.RemoteAddr = "192.0.2.1:52428"
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+user.AccessToken)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var uploaded struct {
		AvatarURL string `json:"avatar_url"`
	}
	decodeBody(t, w, &uploaded)
	require.NotEmpty(t, uploaded.AvatarURL)

	// The stored file is served from the static path.
	w2 := doJSON(t, s, http.MethodGet, uploaded.AvatarURL, "", nil)
	assert.Equal(t, http.StatusOK, w2.Code)

	w2 = doJSON(t, s, http.MethodDelete, "/api/v1/users/me/avatar", user.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w2.Code)

	w2 = doJSON(t, s, http.MethodDelete, "/api/v1/users/me/avatar", user.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, w2.Code)
}

func TestTOTPLoginFlow(t *testing.T) {
	s := newTestServer(t)
	user := registerAndLogin(t, s, "2fa@example.com", "tfauser")

	w := doJSON(t, s, http.MethodPost, "/api/v1/users/me/totp/enroll", user.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var setup models.TOTPSetup
	decodeBody(t, w, &setup)
	require.NotEmpty(t, setup.Secret)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)

	w = doJSON(t, s, http.MethodPost, "/api/v1/users/me/totp/activate", user.AccessToken, models.TOTPRequest{Code: code})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Password alone is no longer enough.
	w = doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{
		Email:    "2fa@example.com",
		Password: "Sup3r$ecret",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "requires_totp")

	code, err = totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	w = doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", models.LoginRequest{
		Email:    "2fa@example.com",
		Password: "Sup3r$ecret",
		TOTPCode: code,
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestUpdateProfileCannotEscalate(t *testing.T) {
	s := newTestServer(t)
	user := registerAndLogin(t, s, "esc@example.com", "escuser")

	isAdmin := true
	w := doJSON(t, s, http.MethodPut, "/api/v1/users/me", user.AccessToken, models.UpdateUserRequest{
		IsAdmin: &isAdmin,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var me models.User
	decodeBody(t, w, &me)
	assert.False(t, me.IsAdmin)
	assert.False(t, me.HasRole(models.RoleAdmin))
}

func TestUnknownRouteIs404(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/v1/%s", "nope"), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
