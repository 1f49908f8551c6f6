package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/auth"
	"github.com/salesloop/salesloop/pkg/config"
	"github.com/salesloop/salesloop/pkg/model"
	"github.com/salesloop/salesloop/pkg/store"
)

type stubWorkflowStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*model.Workflow
}

func newStubWorkflowStore() *stubWorkflowStore {
	return &stubWorkflowStore{items: map[uuid.UUID]*model.Workflow{}}
}

func (s *stubWorkflowStore) Get(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *wf
	return &copied, nil
}

func (s *stubWorkflowStore) List(ctx context.Context, activeOnly bool, limit, offset int) ([]model.Workflow, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Workflow
	for _, wf := range s.items {
		if activeOnly && !wf.Active {
			continue
		}
		out = append(out, *wf)
	}
	return out, int64(len(out)), nil
}

func (s *stubWorkflowStore) ListActiveByTrigger(ctx context.Context, trigger model.TriggerType) ([]model.Workflow, error) {
	return nil, nil
}

func (s *stubWorkflowStore) Save(ctx context.Context, workflow *model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *workflow
	s.items[workflow.ID] = &copied
	return nil
}

func (s *stubWorkflowStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.items[id]
	if !ok {
		return store.ErrNotFound
	}
	wf.Active = active
	return nil
}

func (s *stubWorkflowStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret: "test-secret",
			TokenTTL:  time.Hour,
		},
	}
}

func testServer(t *testing.T) (*Server, *stubWorkflowStore, string) {
	t.Helper()
	cfg := testConfig()
	workflows := newStubWorkflowStore()
	srv := NewServer(workflows, nil, nil, nil, nil, cfg, zap.NewNop())

	token, err := auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL).Generate("op-test")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return srv, workflows, token
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestAPIRequiresAuthorization(t *testing.T) {
	srv, _, token := testServer(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer " + token, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			srv.Router().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCreateWorkflow(t *testing.T) {
	srv, workflows, token := testServer(t)

	body := map[string]interface{}{
		"name":         "qualified follow-up",
		"trigger_type": "status_change",
		"trigger_config": map[string]interface{}{
			"to_status": "Qualified",
		},
		"steps": []map[string]interface{}{
			{"action_type": "create_task", "action_config": map[string]interface{}{"title": "Call {{first_name}}"}},
		},
	}
	payload, _ := json.Marshal(body)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	id, err := uuid.Parse(resp.ID)
	if err != nil {
		t.Fatalf("response id %q not a uuid", resp.ID)
	}

	saved, err := workflows.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("workflow not persisted: %v", err)
	}
	if saved.CreatedBy != "op-test" {
		t.Errorf("CreatedBy = %q, want op-test", saved.CreatedBy)
	}
}

func TestCreateWorkflowRejectsInvalid(t *testing.T) {
	srv, _, token := testServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{
			name: "unknown trigger type",
			body: map[string]interface{}{
				"name":           "bad",
				"trigger_type":   "webhook",
				"trigger_config": map[string]interface{}{},
				"steps": []map[string]interface{}{
					{"action_type": "create_task", "action_config": map[string]interface{}{"title": "t"}},
				},
			},
		},
		{
			name: "unknown action type",
			body: map[string]interface{}{
				"name":           "bad",
				"trigger_type":   "status_change",
				"trigger_config": map[string]interface{}{"to_status": "Qualified"},
				"steps": []map[string]interface{}{
					{"action_type": "launch_rocket", "action_config": map[string]interface{}{}},
				},
			},
		},
		{
			name: "missing trigger config detail",
			body: map[string]interface{}{
				"name":           "bad",
				"trigger_type":   "score_threshold",
				"trigger_config": map[string]interface{}{},
				"steps": []map[string]interface{}{
					{"action_type": "create_task", "action_config": map[string]interface{}{"title": "t"}},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, _ := json.Marshal(tt.body)
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", bytes.NewReader(payload))
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Content-Type", "application/json")
			srv.Router().ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestActivateDeactivateWorkflow(t *testing.T) {
	srv, workflows, token := testServer(t)

	wf := &model.Workflow{
		ID:            uuid.New(),
		Name:          "toggle",
		TriggerType:   model.TriggerStatusChange,
		TriggerConfig: model.JSONB{"to_status": "Qualified"},
		Steps: model.Steps{
			{ActionType: model.ActionCreateTask, ActionConfig: model.JSONB{"title": "t"}},
		},
	}
	if err := workflows.Save(context.Background(), wf); err != nil {
		t.Fatalf("seed workflow: %v", err)
	}

	for _, step := range []struct {
		path string
		want bool
	}{
		{path: "/activate", want: true},
		{path: "/deactivate", want: false},
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/"+wf.ID.String()+step.path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		srv.Router().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d: %s", step.path, w.Code, w.Body.String())
		}
		saved, err := workflows.Get(context.Background(), wf.ID)
		if err != nil {
			t.Fatalf("reload workflow: %v", err)
		}
		if saved.Active != step.want {
			t.Fatalf("after %s Active = %v, want %v", step.path, saved.Active, step.want)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/"+uuid.NewString()+"/activate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("activating an unknown workflow: status = %d, want 404", w.Code)
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	srv, _, token := testServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
