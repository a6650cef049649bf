package atelier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/remote-agent-terminal/ipmbridge/internal/evaltest"
	"github.com/remote-agent-terminal/ipmbridge/internal/model"
)

func TestClient_Registries(t *testing.T) {
	srv := evaltest.NewServer(t)
	srv.Rows["SELECT Name, Details, URL"] = []map[string]any{
		{"Name": "registry", "Details": "", "URL": "https://pm.community.intersystems.com"},
	}

	c, err := NewClient(srv.Target(), model.Credentials{Username: "_SYSTEM", Password: "SYS"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	rows, err := c.Registries(context.Background(), "USER")
	if err != nil {
		t.Fatalf("Registries: %v", err)
	}
	if len(rows) != 1 || rows[0]["Name"] != "registry" {
		t.Errorf("unexpected rows %v", rows)
	}

	queries := srv.Queries()
	if len(queries) != 1 || queries[0] != RegistriesQuery {
		t.Errorf("unexpected queries %v", queries)
	}

	auth := c.AuthContext()
	if len(auth.Cookies) != 1 || !strings.HasPrefix(auth.Cookies[0], "CSPSESSIONID-SP-52773-UP-api-=abc123") {
		t.Errorf("expected session cookie, got %v", auth.Cookies)
	}
}

func TestClient_ModulesEmpty(t *testing.T) {
	srv := evaltest.NewServer(t)
	c, _ := NewClient(srv.Target(), model.Credentials{})

	rows, err := c.Modules(context.Background(), "USER")
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("expected empty non-nil rows, got %v", rows)
	}
	if q := srv.Queries(); len(q) != 1 || q[0] != ModulesQuery {
		t.Errorf("unexpected queries %v", q)
	}
}

func TestClient_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: model.ErrAuth},
		{name: "server error", status: http.StatusInternalServerError},
		{name: "not found", status: http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := evaltest.NewServer(t)
			srv.QueryStatus = tc.status
			c, _ := NewClient(srv.Target(), model.Credentials{})

			_, err := c.Registries(context.Background(), "USER")
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestClient_StatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":{"errors":[{"error":"ERROR #5540: SQLCODE: -30 Table not found"}]},"result":{}}`))
	}))
	defer srv.Close()

	target := evaltest.TargetFor(srv.URL)
	c, _ := NewClient(target, model.Credentials{})
	_, err := c.Modules(context.Background(), "USER")
	if err == nil || !strings.Contains(err.Error(), "Table not found") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestClient_BasicAuthAndPath(t *testing.T) {
	var gotUser, gotPass, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{"status":{"errors":[]},"result":{"content":[]}}`))
	}))
	defer srv.Close()

	target := evaltest.TargetFor(srv.URL)
	target.PathPrefix = "/iris"
	c, _ := NewClient(target, model.Credentials{Username: "admin", Password: "secret"})
	if _, err := c.Registries(context.Background(), "%SYS"); err != nil {
		t.Fatalf("Registries: %v", err)
	}

	if gotUser != "admin" || gotPass != "secret" {
		t.Errorf("unexpected basic auth %q/%q", gotUser, gotPass)
	}
	if gotPath != "/iris/api/atelier/v1/%25SYS/action/query" {
		t.Errorf("unexpected path %q", gotPath)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := evaltest.TargetFor(srv.URL)
	srv.Close()

	c, _ := NewClient(target, model.Credentials{})
	_, err := c.Registries(context.Background(), "USER")
	if !errors.Is(err, model.ErrConnect) {
		t.Errorf("expected ErrConnect, got %v", err)
	}
}
