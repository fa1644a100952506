package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestWriteProblem(t *testing.T) {
	rr := httptest.NewRecorder()
	writeProblem(rr, 400, "Invalid plan request", "userId required", "/v1/plan")

	if rr.Code != 400 {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type = %s", ct)
	}
	var p Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Type != problemBase+"invalid-plan-request" {
		t.Fatalf("type = %s", p.Type)
	}
	if p.Title != "Invalid plan request" || p.Status != 400 ||
		p.Detail != "userId required" || p.Instance != "/v1/plan" {
		t.Fatalf("problem = %+v", p)
	}
}
