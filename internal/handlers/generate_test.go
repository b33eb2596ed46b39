package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jwebster45206/vtt-forge/internal/assembly"
	"github.com/jwebster45206/vtt-forge/internal/generator"
	"github.com/jwebster45206/vtt-forge/internal/services"
	"github.com/jwebster45206/vtt-forge/pkg/errs"
	"github.com/jwebster45206/vtt-forge/pkg/schemas"
	"github.com/jwebster45206/vtt-forge/pkg/storage"
)

const npcReply = `{
	"name": "Captain Sable",
	"imageGenerationPrompt": "a scarred pirate captain",
	"challengeRating": 5,
	"size": "medium",
	"attributes": {"strength": 16, "dexterity": 14, "constitution": 14, "intelligence": 11, "wisdom": 12, "charisma": 15},
	"armorClass": 15,
	"hitPoints": 110,
	"speed": 30,
	"weapons": [{"name": "Cutlass", "effect": "1d6 slashing"}],
	"equipment": [{"name": "Spyglass"}, {"name": "Long Coat"}]
}`

func newGenerateHandler(text *services.MockTextOracle, store *storage.MemoryStore) *GenerateHandler {
	gen := generator.New(text, services.NewMockImageOracle(), schemas.MustDefault(), testLogger())
	return NewGenerateHandler(assembly.NewPipeline(gen, store, testLogger()), testLogger())
}

func postGenerate(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGenerateHandler_Success(t *testing.T) {
	h := newGenerateHandler(services.NewMockTextOracle(npcReply), storage.NewMemoryStore())

	rr := postGenerate(h, `{"kind": "npc", "prompt": "a pirate captain", "challenge_rating": 5}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["name"] != "Captain Sable" {
		t.Errorf("Expected name Captain Sable, got %v", body["name"])
	}
	if body["incomplete"] != false {
		t.Errorf("Expected complete entity, got incomplete=%v", body["incomplete"])
	}
	subs, _ := body["sub_entities"].([]any)
	if len(subs) != 3 {
		t.Errorf("Expected 3 sub-entities, got %d", len(subs))
	}
}

func TestGenerateHandler_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name             string
		body             string
		text             *services.MockTextOracle
		storeFail        string
		expectedStatus   int
		expectedCategory string
	}{
		{
			name:             "reply is not JSON",
			body:             `{"kind": "npc"}`,
			text:             services.NewMockTextOracle("not json"),
			expectedStatus:   http.StatusUnprocessableEntity,
			expectedCategory: errs.CategorySchema,
		},
		{
			name: "text oracle unreachable",
			body: `{"kind": "npc"}`,
			text: &services.MockTextOracle{GenerateFunc: func(ctx context.Context, system, user string) (json.RawMessage, error) {
				return nil, &errs.TransportError{Stage: errs.StageText, StatusCode: 503}
			}},
			expectedStatus:   http.StatusBadGateway,
			expectedCategory: errs.CategoryTransport,
		},
		{
			name:             "container rejected",
			body:             `{"kind": "npc"}`,
			text:             services.NewMockTextOracle(npcReply),
			storeFail:        storage.OpCreateContainer,
			expectedStatus:   http.StatusInternalServerError,
			expectedCategory: errs.CategoryStore,
		},
		{
			name:             "unknown kind",
			body:             `{"kind": "dragon"}`,
			text:             services.NewMockTextOracle(npcReply),
			expectedStatus:   http.StatusBadRequest,
			expectedCategory: "invalid",
		},
		{
			name:             "non-positive rating",
			body:             `{"kind": "npc", "challenge_rating": 0}`,
			text:             services.NewMockTextOracle(npcReply),
			expectedStatus:   http.StatusBadRequest,
			expectedCategory: "invalid",
		},
		{
			name:             "unknown field",
			body:             `{"kind": "npc", "colour": "red"}`,
			text:             services.NewMockTextOracle(npcReply),
			expectedStatus:   http.StatusBadRequest,
			expectedCategory: "invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			if tt.storeFail != "" {
				store.FailFunc = func(op, kind string, fields storage.Fields) error {
					if op == tt.storeFail {
						return errors.New("rejected")
					}
					return nil
				}
			}
			rr := postGenerate(newGenerateHandler(tt.text, store), tt.body)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if resp.Category != tt.expectedCategory {
				t.Errorf("Expected category %q, got %q", tt.expectedCategory, resp.Category)
			}
			if resp.Error == "" {
				t.Error("Expected error message")
			}
		})
	}
}

func TestGenerateHandler_PartialIsOK(t *testing.T) {
	store := storage.NewMemoryStore()
	store.FailFunc = func(op, kind string, fields storage.Fields) error {
		if op == storage.OpCreateEntity && fields.String("name") == "Cutlass" {
			return errors.New("disk full")
		}
		return nil
	}
	rr := postGenerate(newGenerateHandler(services.NewMockTextOracle(npcReply), store), `{"kind": "npc"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"incomplete":true`) {
		t.Errorf("Expected incomplete flag, got %s", body)
	}
	if !strings.Contains(body, `"role":"weapon","name":"Cutlass"`) {
		t.Errorf("Expected weapon failure listed, got %s", body)
	}
}

func TestGenerateHandler_MethodNotAllowed(t *testing.T) {
	h := NewGenerateHandler(nil, testLogger())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/generate", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	status, category := statusFor(errors.Join(generator.ErrInvalidRequest, errors.New("bad kind")))
	if status != http.StatusBadRequest || category != "invalid" {
		t.Errorf("Expected 400 invalid, got %d %s", status, category)
	}
	status, _ = statusFor(errors.New("boom"))
	if status != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", status)
	}
}
