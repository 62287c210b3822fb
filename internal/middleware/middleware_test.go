package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ridedispatch/internal/utils"
	"ridedispatch/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const secret = "middleware-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func whoami(c *gin.Context) {
	userID, userType, ok := CurrentUser(c)
	if !ok {
		c.Status(http.StatusTeapot)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID.Hex(), "user_type": userType})
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func signed(t *testing.T, userID primitive.ObjectID, userType string) string {
	t.Helper()
	tok, err := utils.GenerateAccessToken(userID, userType, secret, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func TestAuthRequiredAcceptsBearerHeader(t *testing.T) {
	r := gin.New()
	r.GET("/me", AuthRequired(secret), whoami)
	userID := primitive.NewObjectID()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, userID, utils.UserTypeRider))
	w := serve(r, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.Hex())
	assert.Contains(t, w.Body.String(), `"user_type":"user"`)
}

func TestAuthRequiredAcceptsQueryToken(t *testing.T) {
	r := gin.New()
	r.GET("/ws", AuthRequired(secret), whoami)
	userID := primitive.NewObjectID()

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+signed(t, userID, utils.UserTypeDriver), nil)
	w := serve(r, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_type":"driver"`)
}

func TestAuthRequiredRejects(t *testing.T) {
	r := gin.New()
	r.GET("/me", AuthRequired(secret), whoami)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &utils.JWTClaims{
		UserID:   primitive.NewObjectID(),
		UserType: utils.UserTypeRider,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredToken, err := expired.SignedString([]byte(secret))
	require.NoError(t, err)

	foreign, err := utils.GenerateAccessToken(primitive.NewObjectID(), utils.UserTypeRider, "other-secret", time.Hour)
	require.NoError(t, err)

	unknownType := jwt.NewWithClaims(jwt.SigningMethodHS256, &utils.JWTClaims{
		UserID:   primitive.NewObjectID(),
		UserType: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	unknownTypeToken, err := unknownType.SignedString([]byte(secret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   string
		body   string
	}{
		{name: "missing", header: "", code: "UNAUTHORIZED"},
		{name: "not bearer", header: "Basic abc", code: "UNAUTHORIZED"},
		{name: "expired", header: "Bearer " + expiredToken, code: "INVALID_TOKEN", body: utils.ErrTokenExpired},
		{name: "wrong secret", header: "Bearer " + foreign.Token, code: "INVALID_TOKEN"},
		{name: "unknown user type", header: "Bearer " + unknownTypeToken, code: "INVALID_TOKEN", body: utils.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(r, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
			if tt.body != "" {
				assert.Contains(t, w.Body.String(), tt.body)
			}
		})
	}
}

func TestUserTypeGuards(t *testing.T) {
	r := gin.New()
	r.GET("/driver", AuthRequired(secret), DriverRequired(), whoami)
	r.GET("/rider", AuthRequired(secret), RiderRequired(), whoami)
	r.GET("/anon", RiderRequired(), whoami)

	rider := signed(t, primitive.NewObjectID(), utils.UserTypeRider)
	driver := signed(t, primitive.NewObjectID(), utils.UserTypeDriver)

	cases := []struct {
		path  string
		token string
		want  int
	}{
		{"/driver", driver, http.StatusOK},
		{"/driver", rider, http.StatusForbidden},
		{"/rider", rider, http.StatusOK},
		{"/rider", driver, http.StatusForbidden},
		{"/anon", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		assert.Equal(t, tc.want, serve(r, req).Code, tc.path)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get("X-Request-ID")
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w = serve(r, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-42", w.Body.String())
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"https://app.example.com"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingAndRecovery(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, logger.InfoLevel)

	r := gin.New()
	r.Use(RequestIDMiddleware(), RecoveryMiddleware(log), LoggingMiddleware(log))
	r.GET("/rides/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/rides/abc", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, buf.String(), `"endpoint":"/rides/:id"`)
	assert.Contains(t, buf.String(), `"status_code":200`)

	buf.Reset()
	w = serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.Contains(t, buf.String(), "Recovered from panic")
}
