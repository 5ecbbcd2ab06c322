package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"strike/internal/broker"
	"strike/internal/config"
	"strike/internal/decision"
	"strike/internal/events"
	"strike/internal/gateway"
	"strike/internal/policy"
	"strike/internal/reviewer"
	"strike/internal/risk"
	"strike/internal/store/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct{}

func (stubAdapter) SubmitPaperOrder(context.Context, broker.SubmitRequest) (string, error) {
	return "", errors.New("not wired")
}
func (stubAdapter) RefreshOrderStatuses(context.Context, []string) (map[string]broker.OrderStatusUpdate, error) {
	return nil, errors.New("not wired")
}
func (stubAdapter) GetPositionsSnapshot(context.Context) ([]broker.Position, error) {
	return nil, errors.New("not wired")
}
func (stubAdapter) GetAccountSnapshot(context.Context) (broker.AccountSnapshot, error) {
	return broker.AccountSnapshot{}, errors.New("not wired")
}
func (stubAdapter) GetOptionMidPrice(context.Context, broker.OptionContract) (float64, error) {
	return 0, errors.New("not wired")
}
func (stubAdapter) GetConnectionStatus(context.Context) (broker.ConnectionStatus, error) {
	return broker.ConnectionStatus{}, errors.New("not wired")
}

type stubLedger struct{}

func (stubLedger) SaveOrder(context.Context, *model.OrderModel) error { return nil }
func (stubLedger) GetOrder(context.Context, string) (*model.OrderModel, error) {
	return nil, nil
}
func (stubLedger) ListOrdersByStatus(context.Context, []string, int) ([]model.OrderModel, error) {
	return nil, nil
}
func (stubLedger) ListRecentOrders(context.Context, int) ([]model.OrderModel, error) {
	return nil, nil
}
func (stubLedger) LogEvent(context.Context, string, any) error { return nil }

type stubEventLog struct{}

func (stubEventLog) ListEvents(context.Context, int) ([]model.EventModel, error) { return nil, nil }

func newTestAPI(t *testing.T) (*gin.Engine, *policy.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	pol := policy.NewStore(context.Background(), nil)
	eventSvc := events.NewService(nil, nil, time.Minute, time.Minute)
	review := reviewer.NewClient(config.ReviewerConfig{}, false)
	cfg := &config.Config{
		Broker: config.BrokerConfig{Mode: "paper"},
		Sync:   config.SyncConfig{MinRefreshGapSeconds: 60},
	}
	gw := gateway.New(cfg, stubAdapter{}, stubLedger{}, pol, risk.NewEngine(pol), eventSvc)
	router := NewRouter(gw, decision.NewEngine(pol, review), review, pol, stubEventLog{})
	e := gin.New()
	router.Register(e.Group("/api/v1"))
	return e, pol
}

func doJSON(t *testing.T, e *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func healthyFeature() decision.FeatureVector {
	return decision.FeatureVector{
		Symbol:              "AAPL",
		TrendStrength:       40,
		RelVolume:           1.1,
		SentimentDispersion: 0.3,
		SpreadPct:           0.01,
		GapRisk:             0.2,
		EventRisk:           0.1,
	}
}

func TestReviewEndpoint(t *testing.T) {
	e, _ := newTestAPI(t)
	score := decision.ScoreCard{CompositeScore: 70, ProbUp: 0.65, ProbDown: 0.35}

	t.Run("clean candidate is confirmed", func(t *testing.T) {
		w := doJSON(t, e, http.MethodPost, "/api/v1/review", gin.H{
			"feature": healthyFeature(), "score": score, "action": decision.ActionCall,
		})
		require.Equal(t, http.StatusOK, w.Code)
		var j decision.Judgement
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &j))
		assert.True(t, j.Confirmed)
	})

	t.Run("event risk draws a veto", func(t *testing.T) {
		f := healthyFeature()
		f.EventRisk = 0.9
		w := doJSON(t, e, http.MethodPost, "/api/v1/review", gin.H{
			"feature": f, "score": score, "action": decision.ActionCall,
		})
		require.Equal(t, http.StatusOK, w.Code)
		var j decision.Judgement
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &j))
		assert.False(t, j.Confirmed)
		assert.NotEmpty(t, j.VetoFlags)
	})
}

func TestGuidelinesEndpoint(t *testing.T) {
	e, pol := newTestAPI(t)

	w := doJSON(t, e, http.MethodGet, "/api/v1/guidelines", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var g policy.Guidelines
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	require.Len(t, g.Exit, 3)
	assert.Contains(t, g.Exit[0], "+30%")

	_, err := pol.Update(context.Background(), policy.Patch{TakeProfitPct: ptr(0.5)})
	require.NoError(t, err)

	w = doJSON(t, e, http.MethodGet, "/api/v1/guidelines", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	assert.Contains(t, g.Exit[0], "+50%", "guidelines track live policy")
}

func TestProposeEndpoint_ValidationStatus(t *testing.T) {
	e, _ := newTestAPI(t)

	t.Run("no trade decision is unprocessable", func(t *testing.T) {
		w := doJSON(t, e, http.MethodPost, "/api/v1/orders/propose", gin.H{
			"decision": decision.DecisionCard{Symbol: "AAPL", Action: decision.ActionNoTrade},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "NO_TRADE")
	})

	t.Run("empty chain is unprocessable", func(t *testing.T) {
		w := doJSON(t, e, http.MethodPost, "/api/v1/orders/propose", gin.H{
			"decision": decision.DecisionCard{Symbol: "AAPL", Action: decision.ActionCall},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "no contract")
	})
}

func ptr(v float64) *float64 { return &v }
