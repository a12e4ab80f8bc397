package history_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reach/reach-api/internal/domain/history"
	"github.com/reach/reach-api/internal/domain/ownership"
	"github.com/reach/reach-api/internal/middleware"
	"github.com/reach/reach-api/internal/pkg/jwt"
)

func TestHistoryEndpoints(t *testing.T) {
	svc, child := seeded(t, 3)
	jwtSvc := jwt.NewService("history-secret", time.Hour)
	owners := ownership.NewStatic()
	parent := uuid.New()
	owners.Link(parent, child)

	r := chi.NewRouter()
	r.Route("/api/v1/tokens", func(r chi.Router) {
		r.Use(middleware.Auth(jwtSvc))
		history.NewHandler(svc, owners).Register(r)
	})

	parentToken, _ := jwtSvc.GenerateAccessToken(parent, jwt.RoleParent)
	strangerToken, _ := jwtSvc.GenerateAccessToken(uuid.New(), jwt.RoleParent)

	get := func(token, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("balance summary", func(t *testing.T) {
		w := get(parentToken, "/api/v1/tokens/balance?child_id="+child.String())
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data history.Summary `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(6), resp.Data.Balance)
		assert.Len(t, resp.Data.RecentTransactions, 3)
	})

	t.Run("paged history", func(t *testing.T) {
		w := get(parentToken, "/api/v1/tokens/history?limit=2&child_id="+child.String())
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data history.Page `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Data.Transactions, 2)
		assert.True(t, resp.Data.HasMore)
		require.NotNil(t, resp.Data.NextCursor)
	})

	t.Run("bad input", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, get(parentToken, "/api/v1/tokens/history?child_id=nope").Code)
		assert.Equal(t, http.StatusBadRequest, get(parentToken, "/api/v1/tokens/history?limit=x&child_id="+child.String()).Code)
		assert.Equal(t, http.StatusBadRequest, get(parentToken, "/api/v1/tokens/history?cursor=%25%25&child_id="+child.String()).Code)
	})

	t.Run("stranger is forbidden", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, get(strangerToken, "/api/v1/tokens/balance?child_id="+child.String()).Code)
	})
}
