package request

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type body struct {
	Name     string `json:"name" binding:"required"`
	Quantity int    `json:"quantity" validate:"gte=1"`
}

func TestBindJSONAndParamID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/things/:id", func(c *gin.Context) {
		id, ok := ParamID(c, "id")
		if !ok {
			return
		}
		var b body
		if !BindJSON(c, &b) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "name": b.Name})
	})

	do := func(path, payload string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		return w
	}

	w := do("/things/3", `{"name":"wheel","quantity":2}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":3,"name":"wheel"}`, w.Body.String())

	w = do("/things/abc", `{"name":"wheel","quantity":2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_ID")

	w = do("/things/3", `{"quantity":2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")

	w = do("/things/3", `{"name":"wheel","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "quantity")
}
