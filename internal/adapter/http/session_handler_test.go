package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/aq2208/group-order-api/configs"
	"github.com/aq2208/group-order-api/internal/adapter/http/middleware"
	domain "github.com/aq2208/group-order-api/internal/entity"
	"github.com/aq2208/group-order-api/internal/usecase"
)

// memRepo is a tiny in-memory SessionRepo so handler tests run against the
// real facade instead of stubbed responses.
type memRepo struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func newMemRepo() *memRepo { return &memRepo{docs: map[string][]byte{}} }

func (r *memRepo) put(s *domain.GroupOrderSession) {
	doc, _ := json.Marshal(s)
	r.docs[s.SessionID] = doc
}

func (r *memRepo) get(id string) (*domain.GroupOrderSession, bool) {
	doc, ok := r.docs[id]
	if !ok {
		return nil, false
	}
	var s domain.GroupOrderSession
	_ = json.Unmarshal(doc, &s)
	return &s, true
}

func (r *memRepo) Insert(ctx context.Context, s *domain.GroupOrderSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(s)
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id string) (*domain.GroupOrderSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.get(id)
	if !ok {
		return nil, usecase.ErrNotFound
	}
	return s, nil
}

func (r *memRepo) GetByInviteCode(ctx context.Context, code string) (*domain.GroupOrderSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.docs {
		if s, _ := r.get(id); s.InviteCode == code {
			return s, nil
		}
	}
	return nil, usecase.ErrNotFound
}

func (r *memRepo) Save(ctx context.Context, s *domain.GroupOrderSession, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.get(s.SessionID)
	if !ok {
		return usecase.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return usecase.ErrVersionConflict
	}
	s.Version = expectedVersion + 1
	r.put(s)
	return nil
}

func testConfig() configs.Config {
	var cfg configs.Config
	cfg.Security.JWTSecret = "test-secret"
	cfg.Security.Issuer = "group-order-api"
	cfg.Security.Audience = "group-order-clients"
	return cfg
}

// newTestRouter wires the same routes as NewRouter without the logging and
// metrics middleware, which only add noise under test.
func newTestRouter(t *testing.T) (*gin.Engine, *memRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := newMemRepo()
	facade := usecase.NewGroupOrderFacade(repo, nil, nil, nil, nil, usecase.FacadeConfig{})
	h := NewSessionHandler(facade)
	authz := middleware.NewAuthz(testConfig())

	r := gin.New()
	g := r.Group("/v1/group-orders", authz.Identity())
	g.POST("/create", h.CreateSession)
	g.POST("/join", h.JoinSession)
	g.GET("/validate-join-code", h.ValidateJoinCode)
	g.GET("/:id", h.GetSession)
	g.POST("/:id/leave", h.LeaveSession)
	g.PUT("/:id/spending-limits", h.UpdateSpendingLimits)
	g.PUT("/:id/spending-limits/:participantId", h.UpdateParticipantLimit)
	g.POST("/:id/add-items", h.AddItems)
	g.PUT("/:id/payment-structure", h.UpdatePaymentStructure)
	g.POST("/:id/submit", h.SubmitSession)
	g.POST("/:id/cancel", authz.Require("group-orders.admin"), h.CancelSession)
	return r, repo
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func createSession(t *testing.T, r *gin.Engine, body map[string]any) map[string]any {
	t.Helper()
	if body == nil {
		body = map[string]any{"restaurantId": "rest-1"}
	}
	w, resp := doJSON(t, r, http.MethodPost, "/v1/group-orders/create", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	return resp
}

func joinSession(t *testing.T, r *gin.Engine, code, name string) map[string]any {
	t.Helper()
	w, resp := doJSON(t, r, http.MethodPost, "/v1/group-orders/join", map[string]any{
		"inviteCode": code, "name": name,
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("join status = %d, body %s", w.Code, w.Body.String())
	}
	return resp
}

func participantID(t *testing.T, joinResp map[string]any) string {
	t.Helper()
	p, _ := joinResp["participant"].(map[string]any)
	id, _ := p["participantId"].(string)
	if id == "" {
		t.Fatalf("no participantId in %v", joinResp)
	}
	return id
}

func TestCreateSessionEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	resp := createSession(t, r, map[string]any{"restaurantId": "rest-1", "maxParticipants": 4})
	if resp["sessionId"] == "" || resp["inviteCode"] == "" {
		t.Fatalf("create response missing ids: %v", resp)
	}
	if resp["paymentStructure"] != "equal_split" {
		t.Errorf("default structure = %v, want equal_split", resp["paymentStructure"])
	}

	w, _ := doJSON(t, r, http.MethodPost, "/v1/group-orders/create", map[string]any{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing restaurantId status = %d, want 400", w.Code)
	}
}

func TestGetSessionEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	resp := createSession(t, r, nil)
	id := resp["sessionId"].(string)

	w, body := doJSON(t, r, http.MethodGet, "/v1/group-orders/"+id, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if body["sessionId"] != id {
		t.Errorf("got sessionId %v, want %s", body["sessionId"], id)
	}

	w, _ = doJSON(t, r, http.MethodGet, "/v1/group-orders/not-a-uuid", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", w.Code)
	}
	w, _ = doJSON(t, r, http.MethodGet, "/v1/group-orders/3e2ab6c0-0000-4000-8000-000000000000", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", w.Code)
	}
}

func TestJoinEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	resp := createSession(t, r, map[string]any{"restaurantId": "rest-1", "maxParticipants": 1})
	code := resp["inviteCode"].(string)

	joinSession(t, r, code, "Alice")

	w, body := doJSON(t, r, http.MethodPost, "/v1/group-orders/join", map[string]any{
		"inviteCode": code, "name": "Bob",
	}, nil)
	if w.Code != http.StatusBadRequest || body["error"] != "session_full" {
		t.Errorf("full session join = %d %v, want 400 session_full", w.Code, body)
	}

	w, _ = doJSON(t, r, http.MethodPost, "/v1/group-orders/join", map[string]any{
		"inviteCode": "ZZZZZZ", "name": "Eve",
	}, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown code join status = %d, want 404", w.Code)
	}
}

func TestValidateJoinCodeEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	resp := createSession(t, r, nil)
	code := resp["inviteCode"].(string)

	w, body := doJSON(t, r, http.MethodGet, "/v1/group-orders/validate-join-code?code="+code, nil, nil)
	if w.Code != http.StatusOK || body["isValid"] != true {
		t.Errorf("valid code = %d %v", w.Code, body)
	}

	w, _ = doJSON(t, r, http.MethodGet, "/v1/group-orders/validate-join-code?code=ab", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed code status = %d, want 400", w.Code)
	}
}

func TestAddItemsAndLimitEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	resp := createSession(t, r, map[string]any{"restaurantId": "rest-1", "spendingLimitRequired": true})
	id := resp["sessionId"].(string)
	code := resp["inviteCode"].(string)
	pid := participantID(t, joinSession(t, r, code, "Alice"))

	w, _ := doJSON(t, r, http.MethodPut, "/v1/group-orders/"+id+"/spending-limits/"+pid,
		map[string]any{"limitCents": 2000}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("set limit status = %d, body %s", w.Code, w.Body.String())
	}

	w, body := doJSON(t, r, http.MethodPost, "/v1/group-orders/"+id+"/add-items", map[string]any{
		"participantId": pid,
		"items": []map[string]any{
			{"menuItemId": "menu-1", "name": "Pizza", "priceCents": 1500, "quantity": 1},
		},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("add items status = %d, body %s", w.Code, w.Body.String())
	}
	totals, _ := body["totals"].(map[string]any)
	if totals["subtotalCents"] != float64(1500) {
		t.Errorf("subtotal = %v, want 1500", totals["subtotalCents"])
	}

	w, body = doJSON(t, r, http.MethodPost, "/v1/group-orders/"+id+"/add-items", map[string]any{
		"participantId": pid,
		"items": []map[string]any{
			{"menuItemId": "menu-2", "name": "Steak", "priceCents": 900, "quantity": 1},
		},
	}, nil)
	if w.Code != http.StatusBadRequest || body["error"] != "limit_exceeded" {
		t.Fatalf("over-limit add = %d %v, want 400 limit_exceeded", w.Code, body)
	}
	if body["overageCents"] != float64(400) {
		t.Errorf("overageCents = %v, want 400", body["overageCents"])
	}
}

func TestSubmitEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	resp := createSession(t, r, nil)
	id := resp["sessionId"].(string)
	code := resp["inviteCode"].(string)
	pid := participantID(t, joinSession(t, r, code, "Alice"))

	// Submitting an empty order is refused.
	w, body := doJSON(t, r, http.MethodPost, "/v1/group-orders/"+code+"/submit", nil, nil)
	if w.Code != http.StatusBadRequest || body["error"] != "empty_order" {
		t.Fatalf("empty submit = %d %v, want 400 empty_order", w.Code, body)
	}

	doJSON(t, r, http.MethodPost, "/v1/group-orders/"+id+"/add-items", map[string]any{
		"participantId": pid,
		"items": []map[string]any{
			{"menuItemId": "menu-1", "name": "Pizza", "priceCents": 1200, "quantity": 2},
		},
	}, nil)

	w, body = doJSON(t, r, http.MethodPost, "/v1/group-orders/"+code+"/submit", map[string]any{
		"deliveryInfo": map[string]any{"address": "1 Main St"},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body %s", w.Code, w.Body.String())
	}
	if body["orderNumber"] == "" {
		t.Error("submit response missing orderNumber")
	}

	// Second submit on a finalized session.
	w, body = doJSON(t, r, http.MethodPost, "/v1/group-orders/"+code+"/submit", nil, nil)
	if w.Code != http.StatusBadRequest || body["error"] != "session_not_active" {
		t.Errorf("double submit = %d %v, want 400 session_not_active", w.Code, body)
	}
}

func TestUpdatePaymentStructureEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	resp := createSession(t, r, nil)
	id := resp["sessionId"].(string)
	code := resp["inviteCode"].(string)
	pid := participantID(t, joinSession(t, r, code, "Alice"))

	w, _ := doJSON(t, r, http.MethodPut, "/v1/group-orders/"+id+"/payment-structure", map[string]any{
		"paymentStructure": "custom_split",
		"percentages":      map[string]any{pid: 100},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("custom split status = %d, body %s", w.Code, w.Body.String())
	}

	w, body := doJSON(t, r, http.MethodPut, "/v1/group-orders/"+id+"/payment-structure", map[string]any{
		"paymentStructure": "dutch",
	}, nil)
	if w.Code != http.StatusBadRequest || body["error"] != "invalid_payment_structure" {
		t.Errorf("bad structure = %d %v", w.Code, body)
	}
}

func adminToken(t *testing.T) string {
	t.Helper()
	cfg := testConfig()
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   cfg.Security.Issuer,
		"aud":   cfg.Security.Audience,
		"sub":   "svc-restaurant",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"perms": []string{"group-orders.admin"},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Security.JWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func TestCancelEndpointRequiresAdmin(t *testing.T) {
	r, _ := newTestRouter(t)
	resp := createSession(t, r, nil)
	id := resp["sessionId"].(string)

	w, _ := doJSON(t, r, http.MethodPost, "/v1/group-orders/"+id+"/cancel", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated cancel status = %d, want 401", w.Code)
	}

	w, body := doJSON(t, r, http.MethodPost, "/v1/group-orders/"+id+"/cancel", nil, map[string]string{
		"Authorization": "Bearer " + adminToken(t),
	})
	if w.Code != http.StatusOK || body["status"] != "cancelled" {
		t.Errorf("admin cancel = %d %v, want 200 cancelled", w.Code, body)
	}
}
