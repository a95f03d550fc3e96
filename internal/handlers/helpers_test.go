// internal/handlers/helpers_test.go
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/auth"
	"github.com/rag2504/tambola/internal/memstore"
	"github.com/rag2504/tambola/internal/room"
	"github.com/rag2504/tambola/internal/ticket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	api    *API
	router http.Handler
	store  *memstore.Store
	reg    *room.Registry
	hub    *Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	require.NoError(t, auth.Init(time.Hour))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store := memstore.New()
	hub := NewHub(logger)
	reg := room.NewRegistry(room.Deps{
		Store:     store,
		Wallet:    store,
		Ledger:    store,
		Players:   store,
		Bus:       hub,
		Actions:   store,
		Generator: ticket.New(rand.NewSource(7)),
		Log:       logger,
	})
	t.Cleanup(reg.Close)

	api := &API{
		Registry:       reg,
		Accounts:       store,
		Hub:            hub,
		Log:            logger,
		AllowedOrigins: []string{"*"},
	}
	return &testServer{api: api, router: api.NewRouter(), store: store, reg: reg, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

// signup registers a player over the API and returns its id and token.
func (ts *testServer) signup(t *testing.T, name string) (uuid.UUID, string) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/players", "", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Player struct {
			ID uuid.UUID `json:"id"`
		} `json:"player"`
		Token string `json:"token"`
	}
	decodeBody(t, w, &resp)
	return resp.Player.ID, resp.Token
}

func (ts *testServer) fund(t *testing.T, playerID uuid.UUID, amount int64) {
	t.Helper()
	_, err := ts.store.Credit(context.Background(), playerID, amount, "test funds")
	require.NoError(t, err)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func roomRequest(price int64) map[string]any {
	return map[string]any{
		"name":         "Diwali Housie",
		"ticket_price": price,
		"min_players":  2,
		"max_players":  10,
		"prizes": []map[string]any{
			{"prize_type": "Early Five", "amount": 50, "enabled": true},
			{"prize_type": "top-line", "amount": 100, "enabled": true},
			{"prize_type": "full_house", "amount": 500, "enabled": true},
		},
	}
}
