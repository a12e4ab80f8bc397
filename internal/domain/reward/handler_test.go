package reward_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reach/reach-api/internal/domain/reward"
	"github.com/reach/reach-api/internal/middleware"
	"github.com/reach/reach-api/internal/pkg/jwt"
)

type awardAPIResponse struct {
	Success bool                 `json:"success"`
	Data    reward.AwardResponse `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func TestAwardEndpoint(t *testing.T) {
	svc, _, _ := newService()
	jwtSvc := jwt.NewService("award-secret", time.Hour)

	r := chi.NewRouter()
	r.With(middleware.Auth(jwtSvc), middleware.RequireService()).Post("/internal/tokens/award", reward.NewHandler(svc).Award)

	serviceToken, err := jwtSvc.GenerateAccessToken(uuid.New(), jwt.RoleService)
	require.NoError(t, err)
	parentToken, err := jwtSvc.GenerateAccessToken(uuid.New(), jwt.RoleParent)
	require.NoError(t, err)

	child := uuid.NewString()
	body := map[string]interface{}{
		"child_id":  child,
		"amount":    5,
		"reason":    "activity_complete",
		"ref_table": "activities",
		"ref_id":    "act-42",
	}

	do := func(token string, payload interface{}) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/internal/tokens/award", bytes.NewReader(raw))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("parent forbidden", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, do(parentToken, body).Code)
	})

	t.Run("first award created", func(t *testing.T) {
		w := do(serviceToken, body)
		require.Equal(t, http.StatusCreated, w.Code)
		var resp awardAPIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, int64(5), resp.Data.Balance)
		assert.False(t, resp.Data.Duplicate)
	})

	t.Run("replay returns duplicate", func(t *testing.T) {
		w := do(serviceToken, body)
		require.Equal(t, http.StatusOK, w.Code)
		var resp awardAPIResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Data.Duplicate)
		assert.Equal(t, int64(5), resp.Data.Balance)
	})

	t.Run("purchase reason rejected", func(t *testing.T) {
		bad := map[string]interface{}{"child_id": child, "amount": 5, "reason": "purchase"}
		assert.Equal(t, http.StatusBadRequest, do(serviceToken, bad).Code)
	})

	t.Run("zero amount fails validation", func(t *testing.T) {
		bad := map[string]interface{}{"child_id": child, "amount": 0, "reason": "gift"}
		assert.Equal(t, http.StatusUnprocessableEntity, do(serviceToken, bad).Code)
	})
}
