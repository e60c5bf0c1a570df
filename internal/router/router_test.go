package router

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"microhub-redistribution-api/internal/cache"
	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/directory"
	"microhub-redistribution-api/internal/handler"
	"microhub-redistribution-api/internal/middleware"
	"microhub-redistribution-api/internal/model"
	"microhub-redistribution-api/internal/outreach"
	"microhub-redistribution-api/internal/pricing"
	"microhub-redistribution-api/internal/retry"
	"microhub-redistribution-api/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

const testKey = "test-key"

var testToday = time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)

type acceptByName struct {
	mu     sync.Mutex
	accept map[string]bool
}

func (a *acceptByName) Respond(_ context.Context, b model.BuyerProfile, _ outreach.Offer) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accept[b.Name], nil
}

func (a *acceptByName) set(names ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accept = make(map[string]bool, len(names))
	for _, n := range names {
		a.accept[n] = true
	}
}

type staticSnapshot []model.InventoryUnit

func (s staticSnapshot) LoadSnapshot(context.Context) ([]model.InventoryUnit, []*model.DataError, error) {
	return s, nil, nil
}

func unit(sku, product string, days int, zone string, stock int, price int64) model.InventoryUnit {
	return model.InventoryUnit{
		SKUID:         sku,
		ProductName:   product,
		ExpiryDate:    testToday.AddDate(0, 0, days),
		Zone:          zone,
		Stock:         stock,
		OriginalPrice: decimal.NewFromInt(price),
	}
}

type RouterSuite struct {
	suite.Suite
	responder *acceptByName
	server    *httptest.Server
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	ctx := context.Background()
	dir, _, err := directory.Load(ctx, directory.SeedSource{})
	s.Require().NoError(err)

	fixed := clock.NewFixed(testToday.Add(9 * time.Hour))
	s.responder = &acceptByName{}
	s.responder.set("Tandoori Express", "Anna Daana NGO")

	ranker := directory.NewRanker(dir, directory.WithCache(cache.NewMemoryCache(), time.Minute))
	dispatcher := outreach.NewDispatcher(s.responder)
	queue := retry.NewManager(ranker, dispatcher, retry.WithClock(fixed))
	prices := pricing.NewRandomPrices(rand.New(rand.NewSource(1)), pricing.DefaultMinPrice, pricing.DefaultMaxPrice)
	svc := service.NewRedistributionService(ranker, dispatcher, prices, queue,
		service.WithClock(fixed),
		service.WithRunStore(service.NewRunStore(cache.NewMemoryCache(), time.Hour)),
		service.WithSnapshotSource(staticSnapshot{
			unit("SKU001", "Paneer 200g", 1, "Zone A", 12, 100),
			unit("SKU002", "Brown Bread", 2, "Zone B", 30, 80),
			unit("SKU003", "Milk 1L", 0, "Zone C", 5, 60),
			unit("SKU004", "Butter 100g", 4, "Zone A", 9, 55),
		}),
	)

	r := New(Config{
		Handler:               handler.New("test"),
		RedistributionHandler: handler.NewRedistributionHandler(svc, "₹"),
		RetryHandler:          handler.NewRetryHandler(svc),
		BuyerHandler:          handler.NewBuyerHandler(ranker, fixed),
		AdminHandler:          handler.NewAdminHandler(handler.AdminConfig{Service: svc, Ranker: ranker, SourceType: "csv", CacheType: "memory"}),
		AuthMiddleware:        middleware.NewAuthMiddleware(middleware.AuthConfig{APIKeys: []string{testKey}}),
	})
	s.server = httptest.NewServer(r)
}

func (s *RouterSuite) TearDownTest() {
	s.server.Close()
}

func (s *RouterSuite) do(method, path string, body interface{}) (int, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	req.Header.Set("X-API-Key", testKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusNoContent {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func data(body map[string]interface{}) map[string]interface{} {
	return body["data"].(map[string]interface{})
}

func errorCode(body map[string]interface{}) string {
	return body["error"].(map[string]interface{})["code"].(string)
}

func (s *RouterSuite) createRun() map[string]interface{} {
	code, body := s.do(http.MethodPost, "/api/v1/redistribution/runs", nil)
	s.Require().Equal(http.StatusCreated, code)
	return data(body)
}

func (s *RouterSuite) TestPublicRoutesSkipAuth() {
	resp, err := http.Get(s.server.URL + "/api/v1/health")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	resp, err = http.Get(s.server.URL + "/api/status")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	resp, err = http.Get(s.server.URL + "/api/v1/buyers")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *RouterSuite) TestCreateRunFromSnapshot() {
	run := s.createRun()

	summary := run["summary"].(map[string]interface{})
	s.Equal(3.0, summary["flagged"])
	s.Equal(2.0, summary["accepted"])
	s.Equal(1.0, summary["unsold"])
	s.Equal(42.0, summary["stock_saved"])

	rows := run["rows"].([]interface{})
	s.Require().Len(rows, 3)
	first := rows[0].(map[string]interface{})
	s.Equal("SKU001", first["sku_id"])
	s.Equal("₹100.00", first["old_price"])
	s.Equal("₹50.00", first["new_price"])
	s.Equal("Tandoori Express", first["buyer"])

	code, body := s.do(http.MethodGet, "/api/v1/redistribution/runs/"+run["run_id"].(string), nil)
	s.Equal(http.StatusOK, code)
	s.Equal(run["run_id"], data(body)["run_id"])

	code, body = s.do(http.MethodGet, "/api/v1/redistribution/runs", nil)
	s.Equal(http.StatusOK, code)
	s.Equal(1.0, body["meta"].(map[string]interface{})["total"])

	code, body = s.do(http.MethodGet, "/api/v1/redistribution/runs/missing", nil)
	s.Equal(http.StatusNotFound, code)
	s.Equal("NOT_FOUND", errorCode(body))
}

func (s *RouterSuite) TestCreateRunInline() {
	code, body := s.do(http.MethodPost, "/api/v1/redistribution/runs", map[string]interface{}{
		"today": "2025-07-10",
		"inventory": []map[string]interface{}{
			{"sku_id": "X1", "product_name": "Paneer", "expiry_date": "2025-07-11", "zone": "Zone A", "stock": 4, "original_price": "90"},
			{"sku_id": "X2", "product_name": "Curd", "expiry_date": "11/07/2025", "zone": "Zone A", "stock": 2},
		},
	})
	s.Require().Equal(http.StatusCreated, code)

	run := data(body)
	s.Len(run["records"], 1)
	rejected := run["unprocessable"].([]interface{})
	s.Require().Len(rejected, 1)
	s.Equal("expiry_date", rejected[0].(map[string]interface{})["field"])

	code, body = s.do(http.MethodPost, "/api/v1/redistribution/runs", map[string]interface{}{"today": "July 10"})
	s.Equal(http.StatusBadRequest, code)
	s.Equal("VALIDATION_ERROR", errorCode(body))
}

func (s *RouterSuite) TestRetryQueueLifecycle() {
	runID := s.createRun()["run_id"].(string)

	code, body := s.do(http.MethodPost, "/api/v1/retry-queue", map[string]string{"run_id": runID, "sku_id": "SKU003"})
	s.Require().Equal(http.StatusCreated, code)
	s.Equal(true, data(body)["queued"])

	code, body = s.do(http.MethodPost, "/api/v1/retry-queue", map[string]string{"run_id": runID, "sku_id": "SKU003"})
	s.Equal(http.StatusOK, code)
	s.Equal(false, data(body)["queued"])

	code, body = s.do(http.MethodPost, "/api/v1/retry-queue", map[string]string{"run_id": runID, "sku_id": "SKU001"})
	s.Equal(http.StatusConflict, code)
	s.Equal("CONFLICT", errorCode(body))

	code, _ = s.do(http.MethodPost, "/api/v1/retry-queue", map[string]string{"run_id": runID})
	s.Equal(http.StatusBadRequest, code)

	s.responder.set()
	code, body = s.do(http.MethodPost, "/api/v1/retry-queue/pass", nil)
	s.Require().Equal(http.StatusOK, code)
	failed := data(body)["failed"].([]interface{})
	s.Require().Len(failed, 1)
	rec := failed[0].(map[string]interface{})["record"].(map[string]interface{})
	s.Equal(70.0, rec["discount_pct"])
	s.Equal(string(model.StatusRetryFailed), rec["status"])

	code, _ = s.do(http.MethodPost, "/api/v1/retry-queue/pass", map[string]int{"escalation_pct": 95})
	s.Equal(http.StatusBadRequest, code)

	code, body = s.do(http.MethodGet, "/api/v1/retry-queue", nil)
	s.Equal(http.StatusOK, code)
	s.Equal(1.0, body["meta"].(map[string]interface{})["total"])

	code, _ = s.do(http.MethodPost, "/api/v1/retry-queue/SKU404/retry", nil)
	s.Equal(http.StatusNotFound, code)

	code, _ = s.do(http.MethodDelete, "/api/v1/retry-queue/SKU003", nil)
	s.Equal(http.StatusNoContent, code)
	code, _ = s.do(http.MethodDelete, "/api/v1/retry-queue/SKU003", nil)
	s.Equal(http.StatusNotFound, code)
}

func (s *RouterSuite) TestRetryOneRoutes() {
	runID := s.createRun()["run_id"].(string)
	code, _ := s.do(http.MethodPost, "/api/v1/retry-queue", map[string]string{"run_id": runID, "sku_id": "SKU003"})
	s.Require().Equal(http.StatusCreated, code)

	s.responder.set("Kitchen 360")
	code, body := s.do(http.MethodPost, "/api/v1/retry-queue/SKU003/retry", map[string]int{"escalation_pct": 10})
	s.Require().Equal(http.StatusOK, code)

	resolved := data(body)["resolved"].([]interface{})
	s.Require().Len(resolved, 1)
	rec := resolved[0].(map[string]interface{})
	s.Equal(60.0, rec["discount_pct"])
	s.Equal(string(model.StatusRoutedRetry), rec["status"])
	s.Equal("Kitchen 360", rec["assignment"].(map[string]interface{})["buyer"])
}

func (s *RouterSuite) TestBuyers() {
	code, body := s.do(http.MethodGet, "/api/v1/buyers", nil)
	s.Equal(http.StatusOK, code)
	s.Equal(6.0, body["meta"].(map[string]interface{})["total"])

	code, body = s.do(http.MethodGet, "/api/v1/buyers/ranked?zone=Zone%20A&today=2025-07-10", nil)
	s.Require().Equal(http.StatusOK, code)
	buyers := data(body)["buyers"].([]interface{})
	s.Require().Len(buyers, 2)
	s.Equal("Tandoori Express", buyers[0].(map[string]interface{})["name"])

	code, _ = s.do(http.MethodGet, "/api/v1/buyers/ranked", nil)
	s.Equal(http.StatusBadRequest, code)
}

func (s *RouterSuite) TestUpcoming() {
	code, body := s.do(http.MethodGet, "/api/v1/redistribution/upcoming", nil)
	s.Require().Equal(http.StatusOK, code)
	upcoming := body["data"].([]interface{})
	s.Require().Len(upcoming, 1)
	s.Equal("SKU004", upcoming[0].(map[string]interface{})["sku_id"])

	code, _ = s.do(http.MethodGet, "/api/v1/redistribution/upcoming?from=5&to=3", nil)
	s.Equal(http.StatusBadRequest, code)

	code, _ = s.do(http.MethodGet, "/api/v1/redistribution/upcoming?from=x", nil)
	s.Equal(http.StatusBadRequest, code)
}

func (s *RouterSuite) TestAdminStats() {
	s.createRun()

	code, body := s.do(http.MethodGet, "/api/v1/admin/stats", nil)
	s.Require().Equal(http.StatusOK, code)
	stats := data(body)
	s.Equal("csv", stats["inventory_source"])
	s.Equal(1.0, stats["runs"].(map[string]interface{})["stored"])
	s.Equal(0.0, stats["retry_queue"].(map[string]interface{})["depth"])
	s.Equal("not_configured", stats["inventory_db"].(map[string]interface{})["status"])
}
