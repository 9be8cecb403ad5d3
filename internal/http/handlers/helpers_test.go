package handlers_test

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/eventops/internal/auth"
	"github.com/geocoder89/eventops/internal/http/middlewares"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeVerifier accepts "Bearer <role>:<userID>".
type fakeVerifier struct{}

func (fakeVerifier) VerifyAccessToken(token string) (*auth.Claims, error) {
	for i := 0; i < len(token); i++ {
		if token[i] == ':' {
			return &auth.Claims{Role: token[:i], UserID: token[i+1:]}, nil
		}
	}
	return nil, errors.New("bad token")
}

func newAuthedRouter(roles ...string) (*gin.Engine, *gin.RouterGroup) {
	r := gin.New()
	r.Use(middlewares.RequestID())

	am := middlewares.NewAuthMiddleware(fakeVerifier{})
	g := r.Group("/admin", am.RequireAuth(), am.RequireRole(roles...))

	return r, g
}

func doRequest(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}

	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
