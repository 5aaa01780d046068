package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailCarriesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) {
		FailWithFields(c, http.StatusBadRequest, ErrValidation, map[string]string{"grade": "grade is required"})
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	var env Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Nil(t, env.Data)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrValidation, env.Error.Code)
	assert.Equal(t, GetMessage(ErrValidation), env.Error.Message)
	assert.Equal(t, "grade is required", env.Error.Fields["grade"])
	assert.Equal(t, "req-42", env.Metadata.RequestID)
}

func TestRequestIDGenerated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/x", func(c *gin.Context) { Success(c, http.StatusOK, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	var env Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.NotEmpty(t, env.Metadata.RequestID)
	assert.Equal(t, w.Header().Get("X-Request-ID"), env.Metadata.RequestID)
	assert.Nil(t, env.Error)
}
