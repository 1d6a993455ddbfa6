package server

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Prabhat-190/trade/book"
	appconfig "github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/costmodel"
	"github.com/Prabhat-190/trade/estimator"
	"github.com/Prabhat-190/trade/features"
	"github.com/Prabhat-190/trade/internal/channel"
	"github.com/Prabhat-190/trade/latency"
	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                           "0.0.0.0:8080",
		"  :9090  ":                  "0.0.0.0:9090",
		"localhost":                  "localhost:8080",
		"0.0.0.0:80":                 "0.0.0.0:80",
		"[::1]:443":                  "[::1]:443",
		"::1":                        "[::1]:8080",
		"*:8080":                     "0.0.0.0:8080",
		"http://13.200.112.203:8080": "13.200.112.203:8080",
		"https://13.200.112.203":     "13.200.112.203:8080",
		"http://:7070":               "0.0.0.0:7070",
		"tcp://localhost:5050":       "localhost:5050",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(appconfig.ServerConfig{Enabled: false}, nil, nil, nil, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv != nil {
		t.Fatal("expected nil server when disabled")
	}
	if srv.Address() != "" {
		t.Fatal("nil server must report an empty address")
	}
}

func TestNewServerNormalizesConfiguredAddress(t *testing.T) {
	srv, err := NewServer(appconfig.ServerConfig{Enabled: true, Addr: ":9000"}, nil, nil, nil, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected api server, got nil")
	}
	if got := srv.Address(); got != "0.0.0.0:9000" {
		t.Fatalf("server address = %q, want %q", got, "0.0.0.0:9000")
	}
	srv.cleanup()
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{estimator.ErrBookNotReady, http.StatusServiceUnavailable},
		{costmodel.ErrUnknownFeeTier, http.StatusNotFound},
		{costmodel.ErrInvalidParameter, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func serverTestConfig() *appconfig.Config {
	return &appconfig.Config{
		Feed: appconfig.FeedConfig{
			Source: "okx",
			Okx:    appconfig.OkxSourceConfig{Symbol: "BTC-USDT-SWAP"},
		},
		Book: appconfig.BookConfig{MaxDepth: 50, ResyncCooldown: time.Millisecond},
		Features: appconfig.FeaturesConfig{
			ImbalanceLevels: 5,
			HistorySize:     16,
			EwmaDecay:       0.94,
			VolatilitySeed:  0.01,
		},
		Models: appconfig.ModelsConfig{
			Slippage: appconfig.SlippageConfig{
				SpreadCoef:        0.5,
				SizeCoef:          0.1,
				VolatilityCoef:    2.0,
				ImbalanceCoef:     -0.3,
				MaxSpreadMultiple: 10,
			},
			Impact: appconfig.ImpactConfig{
				Gamma:               0.1,
				Eta:                 0.01,
				VolFactor:           0.5,
				RiskAversion:        0.001,
				HorizonHours:        1.0,
				DailyVolumeMultiple: 100,
				DepthLevels:         10,
			},
			MakerTaker: appconfig.MakerTakerConfig{
				SizeCoef:       -0.04,
				SpreadCoef:     0.4,
				VolatilityCoef: -0.8,
				ImbalanceCoef:  0.4,
			},
			Fees: appconfig.FeesConfig{Tiers: appconfig.DefaultFeeTiers()},
		},
		Latency: appconfig.LatencyConfig{WindowSize: 64},
	}
}

// newTestRouter wires a real estimator behind the gin router. seeded decides
// whether a snapshot is applied before the router is handed back.
func newTestRouter(t *testing.T, seeded bool) http.Handler {
	t.Helper()

	cfg := serverTestConfig()
	channels := channel.NewChannels(16, 16)
	extractor := features.NewExtractor(cfg.Features)
	ticks := latency.NewTracker(cfg.Latency.WindowSize)
	keeper := book.NewKeeper(cfg, channels, extractor, ticks)

	ctx, cancel := context.WithCancel(context.Background())
	if err := keeper.Start(ctx); err != nil {
		t.Fatalf("failed to start keeper: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		keeper.Stop()
		channels.Close()
	})

	if seeded {
		channels.SendUpdate(ctx, models.BookUpdate{
			Type:         models.UpdateSnapshot,
			Venue:        "okx",
			Symbol:       "BTC-USDT-SWAP",
			Sequence:     1,
			PrevSequence: -1,
			Timestamp:    time.Now(),
			Bids:         []models.PriceLevel{{Price: 44999.5, Quantity: 2}, {Price: 44999.0, Quantity: 3}},
			Asks:         []models.PriceLevel{{Price: 45000.5, Quantity: 2}, {Price: 45001.0, Quantity: 3}},
		})
		deadline := time.Now().Add(2 * time.Second)
		for !keeper.Ready() {
			if time.Now().After(deadline) {
				t.Fatal("timed out waiting for book to become ready")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	svc := estimator.NewService(cfg, channels, keeper, extractor, ticks)
	srv, err := NewServer(appconfig.ServerConfig{Enabled: true, Addr: ":0"}, svc, nil, channels, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	t.Cleanup(srv.cleanup)

	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter returned error: %v", err)
	}
	return router
}

func TestEstimateEndpointBeforeSnapshot(t *testing.T) {
	router := newTestRouter(t, false)

	body := strings.NewReader(`{"side":"buy","quantity_usd":50000,"fee_tier":"VIP0"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/estimate", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before snapshot, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestEstimateEndpointServesEstimate(t *testing.T) {
	router := newTestRouter(t, true)

	body := strings.NewReader(`{"side":"buy","quantity_usd":50000,"fee_tier":"VIP0"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/estimate", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var est models.CostEstimate
	if err := json.Unmarshal(rec.Body.Bytes(), &est); err != nil {
		t.Fatalf("failed to decode estimate: %v", err)
	}
	if est.NetCost <= 0 {
		t.Fatalf("expected positive net cost, got %v", est.NetCost)
	}
	if got := est.MakerRatio + est.TakerRatio; got < 0.999 || got > 1.001 {
		t.Fatalf("maker+taker ratio = %v, want 1", got)
	}
}

func TestEstimateEndpointRejectsBadRequests(t *testing.T) {
	router := newTestRouter(t, true)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"side":`, http.StatusBadRequest},
		{"bad side", `{"side":"hold","quantity_usd":1000}`, http.StatusBadRequest},
		{"zero quantity", `{"side":"buy","quantity_usd":0}`, http.StatusBadRequest},
		{"unknown tier", `{"side":"buy","quantity_usd":1000,"fee_tier":"TIER_X"}`, http.StatusNotFound},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/estimate", strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: got %d, want %d (%s)", tc.name, rec.Code, tc.want, rec.Body.String())
		}
	}
}

func TestOrderBookEndpoint(t *testing.T) {
	router := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/orderbook?levels=1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Sequence int64              `json:"sequence"`
		Bids     []models.PriceLevel `json:"bids"`
		Asks     []models.PriceLevel `json:"asks"`
		MidPrice float64            `json:"mid_price"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode orderbook: %v", err)
	}
	if payload.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", payload.Sequence)
	}
	if len(payload.Bids) != 1 || len(payload.Asks) != 1 {
		t.Fatalf("levels=1 not honored, got %d bids %d asks", len(payload.Bids), len(payload.Asks))
	}
	if payload.MidPrice != 45000 {
		t.Fatalf("mid price = %v, want 45000", payload.MidPrice)
	}
}

func TestOrderBookDepthWalk(t *testing.T) {
	router := newTestRouter(t, true)

	type walkSide struct {
		VWAP   float64 `json:"vwap"`
		Filled float64 `json:"filled"`
	}
	type walk struct {
		Quantity float64  `json:"quantity"`
		Buy      walkSide `json:"buy"`
		Sell     walkSide `json:"sell"`
	}

	fetch := func(qty string) walk {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/api/orderbook?quantity="+qty, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var payload struct {
			Walk walk `json:"walk"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("failed to decode orderbook: %v", err)
		}
		return payload.Walk
	}

	// 3 units consume two levels on each side of the seeded book.
	got := fetch("3")
	if got.Buy.Filled != 3 || got.Sell.Filled != 3 {
		t.Fatalf("expected full fills for 3 units, got buy %v sell %v", got.Buy.Filled, got.Sell.Filled)
	}
	if want := (2*45000.5 + 1*45001.0) / 3; math.Abs(got.Buy.VWAP-want) > 1e-9 {
		t.Fatalf("buy vwap = %v, want %v", got.Buy.VWAP, want)
	}
	if want := (2*44999.5 + 1*44999.0) / 3; math.Abs(got.Sell.VWAP-want) > 1e-9 {
		t.Fatalf("sell vwap = %v, want %v", got.Sell.VWAP, want)
	}

	// An order beyond the book reports the quantity actually available.
	got = fetch("10")
	if got.Buy.Filled != 5 || got.Sell.Filled != 5 {
		t.Fatalf("expected partial fills of 5 units, got buy %v sell %v", got.Buy.Filled, got.Sell.Filled)
	}
}

func TestStatusAndLatencyEndpoints(t *testing.T) {
	router := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint returned %d", rec.Code)
	}
	var status struct {
		ConnState string `json:"conn_state"`
		BookReady bool   `json:"book_ready"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.ConnState != "unknown" {
		t.Fatalf("conn_state = %q, want unknown without a feed", status.ConnState)
	}
	if !status.BookReady {
		t.Fatal("expected book_ready true after seeding")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/latency", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("latency endpoint returned %d", rec.Code)
	}
}
