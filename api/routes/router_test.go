package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/partner-dispatch/internal/dispatch"
	"github.com/angelmondragon/partner-dispatch/internal/geo"
	"github.com/angelmondragon/partner-dispatch/internal/locations"
	"github.com/angelmondragon/partner-dispatch/pkg/auth"
	"github.com/angelmondragon/partner-dispatch/pkg/config"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/partner-dispatch/pkg/errors"
	"github.com/angelmondragon/partner-dispatch/pkg/pagination"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type memRedis struct {
	data map[string]string
}

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}}
}

func (m *memRedis) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memRedis) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memRedis) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memRedis) Ping(context.Context) error {
	return nil
}

type stubLocations struct {
	updated []locations.UpdateLocationInput
}

func (s *stubLocations) UpdateLocation(_ context.Context, input locations.UpdateLocationInput) (*locations.Snapshot, error) {
	s.updated = append(s.updated, input)
	return &locations.Snapshot{PartnerID: input.PartnerID, Latitude: *input.Latitude, Longitude: *input.Longitude, IsOnline: true}, nil
}

func (s *stubLocations) GetLocation(_ context.Context, partnerID uuid.UUID) (*locations.Snapshot, error) {
	return &locations.Snapshot{PartnerID: partnerID}, nil
}

func (s *stubLocations) ListOnline(context.Context) ([]locations.Snapshot, error) {
	return []locations.Snapshot{}, nil
}

func (s *stubLocations) ListHistory(context.Context, uuid.UUID, time.Time, int) ([]locations.HistoryPoint, error) {
	return []locations.HistoryPoint{}, nil
}

func (s *stubLocations) MarkStaleOffline(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

type stubEngine struct {
	radius float64
}

func (s *stubEngine) FindNearby(_ context.Context, _, _, radiusKm float64) ([]geo.NearbyPartner, error) {
	s.radius = radiusKm
	return []geo.NearbyPartner{}, nil
}

type stubDispatch struct {
	autoCalls  int
	lastActor  dispatch.Actor
	byOrder    *dispatch.Snapshot
	redispatch *float64
}

func (s *stubDispatch) AutoAssign(_ context.Context, input dispatch.AutoAssignInput) (*dispatch.Snapshot, error) {
	s.autoCalls++
	s.lastActor = input.Actor
	return &dispatch.Snapshot{ID: uuid.New(), OrderID: input.OrderID, Status: enums.AssignmentStatusPending}, nil
}

func (s *stubDispatch) ManualAssign(_ context.Context, input dispatch.ManualAssignInput) (*dispatch.Snapshot, error) {
	return &dispatch.Snapshot{ID: uuid.New(), OrderID: input.OrderID, PartnerID: &input.PartnerID}, nil
}

func (s *stubDispatch) Redispatch(_ context.Context, id uuid.UUID, radiusKm *float64, _ dispatch.Actor) (*dispatch.Snapshot, error) {
	s.redispatch = radiusKm
	return &dispatch.Snapshot{ID: id}, nil
}

func (s *stubDispatch) Accept(_ context.Context, id uuid.UUID, actor dispatch.Actor) (*dispatch.Snapshot, error) {
	s.lastActor = actor
	return &dispatch.Snapshot{ID: id, Status: enums.AssignmentStatusAccepted}, nil
}

func (s *stubDispatch) Reject(_ context.Context, id uuid.UUID, reason string, _ dispatch.Actor) (*dispatch.Snapshot, error) {
	return &dispatch.Snapshot{ID: id, RejectionReason: &reason}, nil
}

func (s *stubDispatch) Complete(_ context.Context, orderID uuid.UUID, _ dispatch.Actor) (*dispatch.Snapshot, error) {
	return &dispatch.Snapshot{OrderID: orderID, Status: enums.AssignmentStatusCompleted}, nil
}

func (s *stubDispatch) GetByOrderID(_ context.Context, orderID uuid.UUID) (*dispatch.Snapshot, error) {
	if s.byOrder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
	}
	return s.byOrder, nil
}

func (s *stubDispatch) ListByPartnerID(context.Context, uuid.UUID, pagination.Params) (*dispatch.SnapshotPage, error) {
	return &dispatch.SnapshotPage{Items: []dispatch.Snapshot{}}, nil
}

type harness struct {
	cfg       *config.Config
	router    http.Handler
	locations *stubLocations
	engine    *stubEngine
	dispatch  *stubDispatch
}

func newHarness(t *testing.T, dbErr error) *harness {
	t.Helper()
	cfg := &config.Config{
		App:      config.AppConfig{Env: "test"},
		JWT:      config.JWTConfig{Secret: "test-secret", Issuer: "identity"},
		Dispatch: config.DispatchConfig{DefaultRadiusKm: 5, IdempotencyTTL: time.Hour},
	}
	h := &harness{
		cfg:       cfg,
		locations: &stubLocations{},
		engine:    &stubEngine{},
		dispatch:  &stubDispatch{},
	}
	h.router = NewRouter(cfg, nil, stubPinger{err: dbErr}, newMemRedis(), prometheus.NewRegistry(), h.locations, h.engine, h.dispatch)
	return h
}

func (h *harness) do(t *testing.T, method, path string, actorID uuid.UUID, role enums.ActorRole, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		token, err := auth.MintAccessToken(h.cfg.JWT, time.Now(), time.Hour, auth.AccessTokenPayload{ActorID: actorID, Role: role})
		if err != nil {
			t.Fatalf("mint token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	if resp := h.do(t, http.MethodGet, "/health/live", uuid.Nil, "", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected live 200 got %d", resp.Code)
	}
	if resp := h.do(t, http.MethodGet, "/health/ready", uuid.Nil, "", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected ready 200 got %d", resp.Code)
	}

	down := newHarness(t, errors.New("db down"))
	resp := down.do(t, http.MethodGet, "/health/ready", uuid.Nil, "", "", nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected ready 503 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"db"`) {
		t.Fatalf("expected failing dependency in body: %s", resp.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	if resp := h.do(t, http.MethodGet, "/metrics", uuid.Nil, "", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestAPIRejectsMissingJWT(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.do(t, http.MethodGet, "/api/v1/partners/online", uuid.Nil, "", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestListOnlineRequiresDispatcherOrAdmin(t *testing.T) {
	h := newHarness(t, nil)
	if resp := h.do(t, http.MethodGet, "/api/v1/partners/online", uuid.New(), enums.ActorRolePartner, "", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for partner got %d", resp.Code)
	}
	if resp := h.do(t, http.MethodGet, "/api/v1/partners/online", uuid.New(), enums.ActorRoleDispatcher, "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for dispatcher got %d", resp.Code)
	}
}

func TestPartnerMayOnlyPostOwnLocation(t *testing.T) {
	h := newHarness(t, nil)
	self := uuid.New()
	body := `{"lat":40.7128,"lng":-74.006,"is_moving":true}`

	other := h.do(t, http.MethodPut, "/api/v1/partners/"+uuid.NewString()+"/location", self, enums.ActorRolePartner, body, nil)
	if other.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign partner got %d", other.Code)
	}

	resp := h.do(t, http.MethodPut, "/api/v1/partners/"+self.String()+"/location", self, enums.ActorRolePartner, body, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(h.locations.updated) != 1 {
		t.Fatalf("expected one update got %d", len(h.locations.updated))
	}
	got := h.locations.updated[0]
	if got.PartnerID != self || *got.Latitude != 40.7128 || got.IsMoving == nil || !*got.IsMoving {
		t.Fatalf("unexpected update input %+v", got)
	}
}

func TestUpdateLocationValidatesBody(t *testing.T) {
	h := newHarness(t, nil)
	self := uuid.New()
	resp := h.do(t, http.MethodPut, "/api/v1/partners/"+self.String()+"/location", self, enums.ActorRolePartner, `{"lat":1}`, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if len(h.locations.updated) != 0 {
		t.Fatal("service must not be called")
	}
}

func TestNearbyUsesDefaultRadius(t *testing.T) {
	h := newHarness(t, nil)
	missing := h.do(t, http.MethodGet, "/api/v1/geo/nearby?lng=1", uuid.New(), enums.ActorRoleDispatcher, "", nil)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without lat got %d", missing.Code)
	}

	resp := h.do(t, http.MethodGet, "/api/v1/geo/nearby?lat=40.7&lng=-74", uuid.New(), enums.ActorRoleService, "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if h.engine.radius != 5 {
		t.Fatalf("expected default radius 5 got %v", h.engine.radius)
	}

	h.do(t, http.MethodGet, "/api/v1/geo/nearby?lat=40.7&lng=-74&radius_km=12.5", uuid.New(), enums.ActorRoleAdmin, "", nil)
	if h.engine.radius != 12.5 {
		t.Fatalf("expected radius 12.5 got %v", h.engine.radius)
	}
}

func autoAssignBody() string {
	return fmt.Sprintf(`{"order_id":%q,"restaurant_id":%q,"customer_id":%q,"restaurant":{"lat":40.71,"lng":-74.0},"customer":{"lat":40.73,"lng":-73.99}}`,
		uuid.NewString(), uuid.NewString(), uuid.NewString())
}

func TestAutoAssignRoleAndIdempotency(t *testing.T) {
	h := newHarness(t, nil)
	dispatcher := uuid.New()
	body := autoAssignBody()

	forbidden := h.do(t, http.MethodPost, "/api/v1/assignments/auto", uuid.New(), enums.ActorRolePartner, body, map[string]string{"Idempotency-Key": "k"})
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for partner got %d", forbidden.Code)
	}

	noKey := h.do(t, http.MethodPost, "/api/v1/assignments/auto", dispatcher, enums.ActorRoleDispatcher, body, nil)
	if noKey.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key got %d", noKey.Code)
	}

	first := h.do(t, http.MethodPost, "/api/v1/assignments/auto", dispatcher, enums.ActorRoleDispatcher, body, map[string]string{"Idempotency-Key": "order-1"})
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", first.Code, first.Body.String())
	}
	replay := h.do(t, http.MethodPost, "/api/v1/assignments/auto", dispatcher, enums.ActorRoleDispatcher, body, map[string]string{"Idempotency-Key": "order-1"})
	if replay.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201 got %d", replay.Code)
	}
	if h.dispatch.autoCalls != 1 {
		t.Fatalf("expected a single AutoAssign call got %d", h.dispatch.autoCalls)
	}
	if h.dispatch.lastActor.ID != dispatcher || h.dispatch.lastActor.Role != enums.ActorRoleDispatcher {
		t.Fatalf("unexpected actor %+v", h.dispatch.lastActor)
	}
	if first.Body.String() != replay.Body.String() {
		t.Fatalf("replay body differs")
	}
}

func TestAcceptRequiresPartner(t *testing.T) {
	h := newHarness(t, nil)
	path := "/api/v1/assignments/" + uuid.NewString() + "/accept"
	headers := map[string]string{"Idempotency-Key": "a1"}

	if resp := h.do(t, http.MethodPost, path, uuid.New(), enums.ActorRoleDispatcher, "", headers); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for dispatcher got %d", resp.Code)
	}
	partner := uuid.New()
	if resp := h.do(t, http.MethodPost, path, partner, enums.ActorRolePartner, "", headers); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for partner got %d", resp.Code)
	}
	if h.dispatch.lastActor.ID != partner {
		t.Fatalf("expected partner actor got %+v", h.dispatch.lastActor)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	h := newHarness(t, nil)
	path := "/api/v1/assignments/" + uuid.NewString() + "/reject"
	resp := h.do(t, http.MethodPost, path, uuid.New(), enums.ActorRolePartner, `{}`, map[string]string{"Idempotency-Key": "r1"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestRedispatchAcceptsEmptyBody(t *testing.T) {
	h := newHarness(t, nil)
	path := "/api/v1/assignments/" + uuid.NewString() + "/redispatch"
	resp := h.do(t, http.MethodPost, path, uuid.New(), enums.ActorRoleService, "", map[string]string{"Idempotency-Key": "x1"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if h.dispatch.redispatch != nil {
		t.Fatalf("expected nil radius got %v", *h.dispatch.redispatch)
	}

	resp = h.do(t, http.MethodPost, path, uuid.New(), enums.ActorRoleService, `{"search_radius_km":8}`, map[string]string{"Idempotency-Key": "x2"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if h.dispatch.redispatch == nil || *h.dispatch.redispatch != 8 {
		t.Fatalf("expected radius 8")
	}
}

func TestCompleteRequiresService(t *testing.T) {
	h := newHarness(t, nil)
	path := "/api/v1/assignments/orders/" + uuid.NewString() + "/complete"
	if resp := h.do(t, http.MethodPost, path, uuid.New(), enums.ActorRoleAdmin, "", map[string]string{"Idempotency-Key": "c1"}); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for admin got %d", resp.Code)
	}
	if resp := h.do(t, http.MethodPost, path, uuid.New(), enums.ActorRoleService, "", map[string]string{"Idempotency-Key": "c2"}); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for service got %d", resp.Code)
	}
}

func TestGetAssignmentByOrderHidesForeignAssignments(t *testing.T) {
	h := newHarness(t, nil)
	owner := uuid.New()
	orderID := uuid.New()
	h.dispatch.byOrder = &dispatch.Snapshot{ID: uuid.New(), OrderID: orderID, PartnerID: &owner}
	path := "/api/v1/assignments/orders/" + orderID.String()

	if resp := h.do(t, http.MethodGet, path, uuid.New(), enums.ActorRolePartner, "", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for other partner got %d", resp.Code)
	}

	resp := h.do(t, http.MethodGet, path, owner, enums.ActorRolePartner, "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner got %d", resp.Code)
	}
	var body struct {
		Data dispatch.Snapshot `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.OrderID != orderID {
		t.Fatalf("unexpected order %s", body.Data.OrderID)
	}

	if resp := h.do(t, http.MethodGet, path, uuid.New(), enums.ActorRoleDispatcher, "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for dispatcher got %d", resp.Code)
	}
}

func TestListPartnerAssignmentsScopesPartners(t *testing.T) {
	h := newHarness(t, nil)
	self := uuid.New()
	if resp := h.do(t, http.MethodGet, "/api/v1/partners/"+uuid.NewString()+"/assignments", self, enums.ActorRolePartner, "", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
	if resp := h.do(t, http.MethodGet, "/api/v1/partners/"+self.String()+"/assignments?limit=10", self, enums.ActorRolePartner, "", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if resp := h.do(t, http.MethodGet, "/api/v1/partners/"+self.String()+"/assignments?limit=0", self, enums.ActorRolePartner, "", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit got %d", resp.Code)
	}
}
