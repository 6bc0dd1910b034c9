package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	gohttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/dolmetscher/pkg/api"
	"github.com/rhuss/dolmetscher/pkg/auth"
	"github.com/rhuss/dolmetscher/pkg/auth/apikey"
	"github.com/rhuss/dolmetscher/pkg/transport"
)

type testServerCreator struct {
	completion *api.ChatCompletion
}

func (c *testServerCreator) CreateChatCompletion(ctx context.Context, req *api.ChatCompletionRequest, w transport.ResponseWriter) error {
	return w.WriteCompletion(ctx, c.completion)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	return bytes.NewReader(data)
}

func TestServerStartsAndAcceptsRequests(t *testing.T) {
	creator := &testServerCreator{
		completion: &api.ChatCompletion{
			ID:     "msg_serverTest",
			Object: api.ObjectChatCompletion,
			Model:  "claude-test",
		},
	}

	srv := NewServer(creator, WithAddr("127.0.0.1:0"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	ctx, stop := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ServeOn(ctx, ln) }()
	time.Sleep(50 * time.Millisecond)

	resp, err := gohttp.Post("http://"+addr+"/v1/chat/completions", "application/json",
		jsonBody(t, helloRequest(false)))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusOK)
	}

	var got api.ChatCompletion
	json.NewDecoder(resp.Body).Decode(&got)
	if got.ID != "msg_serverTest" {
		t.Errorf("completion ID = %q, want %q", got.ID, "msg_serverTest")
	}

	stop()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("ServeOn returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	slowCreator := transport.ChatCompleterFunc(func(ctx context.Context, req *api.ChatCompletionRequest, w transport.ResponseWriter) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return w.WriteCompletion(ctx, &api.ChatCompletion{ID: "msg_graceful"})
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	srv := NewServer(slowCreator,
		WithAddr("127.0.0.1:0"),
		WithShutdownTimeout(5*time.Second),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	go srv.ServeOn(context.Background(), ln)
	time.Sleep(50 * time.Millisecond)

	responseCh := make(chan int, 1)
	go func() {
		resp, err := gohttp.Post("http://"+addr+"/v1/chat/completions", "application/json",
			jsonBody(t, helloRequest(false)))
		if err != nil {
			responseCh <- 0
			return
		}
		defer resp.Body.Close()
		responseCh <- resp.StatusCode
	}()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	status := <-responseCh
	if status != gohttp.StatusOK {
		t.Errorf("slow request status = %d, want %d", status, gohttp.StatusOK)
	}
}

func TestServerFunctionalOptions(t *testing.T) {
	srv := NewServer(&testServerCreator{},
		WithAddr(":9999"),
		WithMaxBodySize(1024),
		WithShutdownTimeout(10*time.Second),
		WithTimeouts(5*time.Second, 0),
	)

	if srv.config.Addr != ":9999" {
		t.Errorf("addr = %q, want %q", srv.config.Addr, ":9999")
	}
	if srv.config.MaxBodySize != 1024 {
		t.Errorf("max body size = %d, want %d", srv.config.MaxBodySize, 1024)
	}
	if srv.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v, want %v", srv.config.ShutdownTimeout, 10*time.Second)
	}
	if srv.httpServer.ReadTimeout != 5*time.Second {
		t.Errorf("read timeout = %v, want %v", srv.httpServer.ReadTimeout, 5*time.Second)
	}
	if srv.adapter.config.MaxBodySize != 1024 {
		t.Errorf("adapter max body size = %d, want 1024", srv.adapter.config.MaxBodySize)
	}
}

func TestServerHealthAndReadiness(t *testing.T) {
	srv := NewServer(&testServerCreator{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := gohttp.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != gohttp.StatusOK {
			t.Errorf("%s status = %d, want %d", path, resp.StatusCode, gohttp.StatusOK)
		}
	}

	srv.draining.Store(true)
	resp, err := gohttp.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != gohttp.StatusServiceUnavailable {
		t.Errorf("/readyz while draining = %d, want %d", resp.StatusCode, gohttp.StatusServiceUnavailable)
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	ts := httptest.NewServer(NewServer(&testServerCreator{}).Handler())
	defer ts.Close()

	resp, err := gohttp.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "dolmetscher_") {
		t.Error("metrics output lacks dolmetscher_ series")
	}

	disabled := httptest.NewServer(NewServer(&testServerCreator{}, WithMetrics(MetricsConfig{Enabled: false})).Handler())
	defer disabled.Close()
	resp, err = gohttp.Get(disabled.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != gohttp.StatusNotFound {
		t.Errorf("disabled /metrics status = %d, want %d", resp.StatusCode, gohttp.StatusNotFound)
	}
}

func TestServerCORSPreflight(t *testing.T) {
	ts := httptest.NewServer(NewServer(&testServerCreator{}).Handler())
	defer ts.Close()

	tests := []struct {
		name           string
		requestHeaders string
	}{
		{name: "with request headers", requestHeaders: "authorization,content-type"},
		{name: "without request headers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := gohttp.NewRequest(gohttp.MethodOptions, ts.URL+"/v1/chat/completions", nil)
			req.Header.Set("Origin", "https://app.example.com")
			req.Header.Set("Access-Control-Request-Method", "POST")
			if tt.requestHeaders != "" {
				req.Header.Set("Access-Control-Request-Headers", tt.requestHeaders)
			}
			resp, err := gohttp.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("OPTIONS error: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != gohttp.StatusNoContent {
				t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusNoContent)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
			}
			if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
				t.Errorf("Access-Control-Allow-Methods = %q, want POST", got)
			}
		})
	}
}

func TestServerCredentialPassThrough(t *testing.T) {
	var gotKey string
	creator := transport.ChatCompleterFunc(func(ctx context.Context, req *api.ChatCompletionRequest, w transport.ResponseWriter) error {
		gotKey, _ = auth.APIKeyFromContext(ctx)
		return w.WriteCompletion(ctx, &api.ChatCompletion{ID: "msg_cred"})
	})
	ts := httptest.NewServer(NewServer(creator, WithCredentials(apikey.DefaultChain(""))).Handler())
	defer ts.Close()

	req, _ := gohttp.NewRequest(gohttp.MethodPost, ts.URL+"/v1/chat/completions", jsonBody(t, helloRequest(false)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer sk-ant-test")
	resp, err := gohttp.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusOK)
	}
	if gotKey != "sk-ant-test" {
		t.Errorf("credential = %q, want %q", gotKey, "sk-ant-test")
	}

	req, _ = gohttp.NewRequest(gohttp.MethodPost, ts.URL+"/v1/chat/completions", jsonBody(t, helloRequest(false)))
	req.Header.Set("Authorization", "Bearer ")
	resp, err = gohttp.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != gohttp.StatusUnauthorized {
		t.Errorf("empty bearer status = %d, want %d", resp.StatusCode, gohttp.StatusUnauthorized)
	}
}
