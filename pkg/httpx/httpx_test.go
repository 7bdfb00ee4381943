package httpx

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	driftwatchtls "github.com/modelops/driftwatch/pkg/tls"
)

func TestNewClient_PlainHTTP(t *testing.T) {
	client, err := NewClient(driftwatchtls.Config{}, 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("client timeout = %v, want 5s", client.Timeout)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "pong" {
		t.Errorf("body = %q, want pong", body)
	}
}

func TestNewClient_MissingCertFiles(t *testing.T) {
	_, err := NewClient(driftwatchtls.Config{
		Enabled:  true,
		CertFile: "/nonexistent/cert.pem",
		KeyFile:  "/nonexistent/key.pem",
		CAFile:   "/nonexistent/ca.pem",
	}, time.Second)
	if err == nil {
		t.Fatal("NewClient() with missing cert files expected error")
	}
}
