package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/event"
	"github.com/atharva20-coder/swoopin-sub002/flowgraph"
	"github.com/atharva20-coder/swoopin-sub002/plan"
)

type apiHarness struct {
	server *httptest.Server
	store  *automation.MemoryStore
	subs   *plan.MemorySubscriptionStore
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	h := &apiHarness{
		store: automation.NewMemoryStore(),
		subs:  plan.NewMemorySubscriptionStore(),
	}
	svc := NewAPIService(h.store, plan.NewGate(h.subs), flowgraph.NewValidator(nil), nil)
	mux := http.NewServeMux()
	svc.RegisterHTTPHandlers("/api/v1/", mux)
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func validFlow() flowUpdate {
	return flowUpdate{
		Nodes: []automation.FlowNode{
			{ID: "t", Type: automation.NodeTrigger, SubType: string(event.TriggerDM)},
			{ID: "dm", Type: automation.NodeAction, SubType: automation.SubTypeSendDM,
				Config: map[string]any{"message": "hello"}},
		},
		Edges: []automation.FlowEdge{{Source: "t", Target: "dm"}},
	}
}

func TestAPICreateAndGet(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/api/v1/automations",
		map[string]string{"user_id": "u1", "page_id": "page-1", "name": "welcome"})
	created := decodeBody[automation.Automation](t, resp)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.Active, "new automations start inactive")

	got := h.do(t, http.MethodGet, "/api/v1/automations/"+created.ID, nil)
	fetched := decodeBody[automation.Automation](t, got)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, created.ID, fetched.ID)
}

func TestAPICreateRejectsMissingFields(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.do(t, http.MethodPost, "/api/v1/automations", map[string]string{"user_id": "u1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPICreateEnforcesPlanLimit(t *testing.T) {
	h := newAPIHarness(t)
	limit := plan.ForTier(plan.TierFree).MaxAutomations

	for i := 0; i < limit; i++ {
		resp := h.do(t, http.MethodPost, "/api/v1/automations",
			map[string]string{"user_id": "u1", "page_id": "page-1", "name": fmt.Sprintf("auto %d", i)})
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := h.do(t, http.MethodPost, "/api/v1/automations",
		map[string]string{"user_id": "u1", "page_id": "page-1", "name": "one too many"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPIPutFlowSavesValidGraph(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Create(ctx, &automation.Automation{ID: "a1", UserID: "u1", PageID: "page-1"}))

	resp := h.do(t, http.MethodPut, "/api/v1/automations/a1/flow", validFlow())
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["saved"])

	stored, err := h.store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, stored.Nodes, 2)
	require.NotNil(t, stored.LastValidation)
	assert.Equal(t, flowgraph.StatusValid, stored.LastValidation.Status)
}

func TestAPIPutFlowRejectsPlanRestrictedNodes(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	// u1 has no subscription record, so the gate resolves FREE.
	require.NoError(t, h.store.Create(ctx, &automation.Automation{ID: "a1", UserID: "u1", PageID: "page-1"}))

	flow := validFlow()
	flow.Nodes[1] = automation.FlowNode{
		ID: "ai", Type: automation.NodeAction, SubType: automation.SubTypeSmartAI,
		Config: map[string]any{"prompt": "be helpful"},
	}
	flow.Edges = []automation.FlowEdge{{Source: "t", Target: "ai"}}

	resp := h.do(t, http.MethodPut, "/api/v1/automations/a1/flow", flow)
	result := decodeBody[flowgraph.ValidationResult](t, resp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, flowgraph.StatusErrors, result.Status)

	stored, err := h.store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, stored.Nodes, "rejected flow must not be saved")
}

func TestAPIActivateRevalidatesUnderCurrentPlan(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	require.NoError(t, h.subs.Put(ctx, &plan.Subscription{UserID: "u1", Tier: plan.TierPro}))
	require.NoError(t, h.store.Create(ctx, &automation.Automation{ID: "a1", UserID: "u1", PageID: "page-1"}))

	flow := validFlow()
	flow.Nodes[1] = automation.FlowNode{
		ID: "ai", Type: automation.NodeAction, SubType: automation.SubTypeSmartAI,
		Config: map[string]any{"prompt": "be helpful"},
	}
	flow.Edges = []automation.FlowEdge{{Source: "t", Target: "ai"}}

	resp := h.do(t, http.MethodPut, "/api/v1/automations/a1/flow", flow)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Activation works while the owner is on PRO.
	resp = h.do(t, http.MethodPost, "/api/v1/automations/a1/activate", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// After a downgrade the same stored flow no longer activates.
	require.NoError(t, h.subs.Put(ctx, &plan.Subscription{UserID: "u1", Tier: plan.TierFree}))
	resp = h.do(t, http.MethodPost, "/api/v1/automations/a1/deactivate", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/automations/a1/activate", nil)
	result := decodeBody[flowgraph.ValidationResult](t, resp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, flowgraph.StatusErrors, result.Status)
}

func TestAPIDeleteAndNotFound(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Create(ctx, &automation.Automation{ID: "a1", UserID: "u1", PageID: "page-1"}))

	resp := h.do(t, http.MethodDelete, "/api/v1/automations/a1", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/v1/automations/a1", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIListByUser(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.Create(ctx, &automation.Automation{ID: "a1", UserID: "u1", PageID: "page-1"}))
	require.NoError(t, h.store.Create(ctx, &automation.Automation{ID: "a2", UserID: "u2", PageID: "page-2"}))

	resp := h.do(t, http.MethodGet, "/api/v1/automations?user_id=u1", nil)
	body := decodeBody[struct {
		Automations []automation.Automation `json:"automations"`
	}](t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Automations, 1)
	assert.Equal(t, "a1", body.Automations[0].ID)
}
