package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	resp := getURL(t, testEnv.BaseURL()+"/healthz")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	body := readBody(t, resp)
	if !strings.Contains(body, "ok") {
		t.Errorf("body = %q, want to contain 'ok'", body)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	resp := getURL(t, testEnv.BaseURL()+"/readyz")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHealthEndpointWithEmptyBearer(t *testing.T) {
	// Health is bypassed by credential resolution, so even a rejected
	// credential does not matter.
	req, err := http.NewRequest(http.MethodGet, testEnv.BaseURL()+"/healthz", nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer ")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 without credentials, got %d", resp.StatusCode)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	resp := getURL(t, testEnv.BaseURL()+"/openapi.json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var doc map[string]any
	decodeJSON(t, resp, &doc)

	servers, ok := doc["x-origin-servers"].([]any)
	if !ok || len(servers) != 1 {
		t.Fatalf("x-origin-servers = %v, want one entry", doc["x-origin-servers"])
	}
	entry, _ := json.Marshal(servers[0])
	if !strings.Contains(string(entry), testEnv.Upstream.URL+"/v1") {
		t.Errorf("x-origin-servers[0] = %s, want the upstream URL", entry)
	}

	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/chat/completions"]; !ok {
		t.Error("paths does not describe /v1/chat/completions")
	}
}

func TestModelsEndpoint(t *testing.T) {
	resp := getURL(t, testEnv.BaseURL()+"/v1/models")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var list struct {
		Object string `json:"object"`
		Data   []struct {
			ID      string `json:"id"`
			Object  string `json:"object"`
			Created int64  `json:"created"`
		} `json:"data"`
	}
	decodeJSON(t, resp, &list)

	if list.Object != "list" {
		t.Errorf("object = %q, want list", list.Object)
	}
	if len(list.Data) != 2 || list.Data[0].ID != "claude-text" {
		t.Fatalf("data = %+v", list.Data)
	}
	if list.Data[0].Object != "model" || list.Data[0].Created == 0 {
		t.Errorf("data[0] = %+v, want object model with a created timestamp", list.Data[0])
	}
}
