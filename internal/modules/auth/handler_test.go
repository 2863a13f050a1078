package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mailblog/core/internal/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loginRouter(password string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(password).RegisterRoutes(router.Group(""))
	return router
}

func postLogin(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLoginIssuesToken(t *testing.T) {
	router := loginRouter("hunter2")

	w := postLogin(router, `{"password":"hunter2"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.NotEmpty(t, payload.Token)

	claims, err := jwt.Parse(payload.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
}

func TestLoginWrongPassword(t *testing.T) {
	router := loginRouter("hunter2")

	w := postLogin(router, `{"password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginMissingPassword(t *testing.T) {
	router := loginRouter("hunter2")

	w := postLogin(router, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginDisabledWithoutPassword(t *testing.T) {
	router := loginRouter("")

	w := postLogin(router, `{"password":"anything"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
