package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/remote-agent-terminal/ipmbridge/internal/evaltest"
	"github.com/remote-agent-terminal/ipmbridge/internal/model"
	"github.com/remote-agent-terminal/ipmbridge/internal/protocol"
)

func dialFake(t *testing.T, srv *evaltest.Server, cookies ...string) *Conn {
	t.Helper()
	conn, err := Dial(context.Background(), srv.Target(), model.AuthContext{Cookies: cookies}, Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := srv.WaitConn(3 * time.Second); err != nil {
		t.Fatal(err)
	}
	return conn
}

func TestEndpointURL(t *testing.T) {
	testCases := []struct {
		name    string
		target  model.Target
		want    string
		wantErr bool
	}{
		{
			name:   "http",
			target: model.Target{Host: "localhost", Port: 52773},
			want:   "ws://localhost:52773/api/atelier/v7/%25SYS/terminal",
		},
		{
			name:   "https with prefix",
			target: model.Target{Scheme: "https", Host: "iris.example.com", Port: 443, PathPrefix: "/iris/"},
			want:   "wss://iris.example.com:443/iris/api/atelier/v7/%25SYS/terminal",
		},
		{
			name:   "prefix without leading slash",
			target: model.Target{Scheme: "http", Host: "h", Port: 80, PathPrefix: "p"},
			want:   "ws://h:80/p/api/atelier/v7/%25SYS/terminal",
		},
		{
			name:    "unsupported scheme",
			target:  model.Target{Scheme: "ftp", Host: "h", Port: 21},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EndpointURL(tc.target)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDialSendsCookiesAndPath(t *testing.T) {
	srv := evaltest.NewServer(t)
	dialFake(t, srv, evaltest.SessionCookie)

	if got := srv.Path(); got != "/api/atelier/v7/%25SYS/terminal" {
		t.Errorf("unexpected path %q", got)
	}
	cookies := srv.Cookies()
	if len(cookies) != 1 || cookies[0] != evaltest.SessionCookie {
		t.Errorf("expected cookie passed verbatim, got %v", cookies)
	}
}

func TestDialAuthError(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := evaltest.NewServer(t)
		srv.RejectStatus = status

		_, err := Dial(context.Background(), srv.Target(), model.AuthContext{}, Options{})
		var terr *Error
		if !errors.As(err, &terr) || terr.Kind != AuthError {
			t.Fatalf("status %d: expected AuthError, got %v", status, err)
		}
		if !errors.Is(err, model.ErrAuth) {
			t.Errorf("status %d: expected errors.Is(err, ErrAuth)", status)
		}
	}
}

func TestDialConnectError(t *testing.T) {
	srv := evaltest.NewServer(t)
	target := srv.Target()
	srv.Close()

	_, err := Dial(context.Background(), target, model.AuthContext{}, Options{HandshakeTimeout: time.Second})
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != ConnectError {
		t.Fatalf("expected ConnectError, got %v", err)
	}
	if !errors.Is(err, model.ErrConnect) {
		t.Error("expected errors.Is(err, ErrConnect)")
	}
}

func TestDialServerErrorIsConnectError(t *testing.T) {
	srv := evaltest.NewServer(t)
	srv.RejectStatus = http.StatusInternalServerError

	_, err := Dial(context.Background(), srv.Target(), model.AuthContext{}, Options{})
	if !errors.Is(err, model.ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
}

func TestMessagesDeliveredInOrderAndMalformedDropped(t *testing.T) {
	srv := evaltest.NewServer(t)
	conn := dialFake(t, srv)

	var mu sync.Mutex
	var got []protocol.Inbound
	received := make(chan struct{}, 16)
	conn.OnMessage(func(m protocol.Inbound) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
		received <- struct{}{}
	})
	conn.Start()

	frames := []string{
		`{"type":"init","protocol":1,"version":"2024.1"}`,
		`not json at all`,
		`{"type":"output","text":"one"}`,
		`{"type":"mystery"}`,
		`{"type":"output","text":"two"}`,
		`{"type":"prompt","text":"USER>"}`,
	}
	for _, f := range frames {
		if err := srv.SendRaw(f); err != nil {
			t.Fatalf("SendRaw: %v", err)
		}
	}

	for i := 0; i < 4; i++ {
		select {
		case <-received:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d messages", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	wantTypes := []protocol.InboundType{protocol.TypeInit, protocol.TypeOutput, protocol.TypeOutput, protocol.TypePrompt}
	if len(got) != len(wantTypes) {
		t.Fatalf("expected %d messages, got %d", len(wantTypes), len(got))
	}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Errorf("message %d: expected %s, got %s", i, want, got[i].Type)
		}
	}
	if got[1].TextOrEmpty() != "one" || got[2].TextOrEmpty() != "two" {
		t.Errorf("output order not preserved: %q %q", got[1].TextOrEmpty(), got[2].TextOrEmpty())
	}
}

func TestSendWritesFrame(t *testing.T) {
	srv := evaltest.NewServer(t)
	conn := dialFake(t, srv)
	conn.Start()

	if err := conn.Send(protocol.Config("USER")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	frame, err := srv.Next(3 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Type != protocol.TypeConfig || frame.Namespace != "USER" || frame.RawMode == nil || !*frame.RawMode {
		t.Errorf("unexpected frame %+v", frame)
	}
}

func TestCloseIsIdempotentAndSendFails(t *testing.T) {
	srv := evaltest.NewServer(t)
	conn := dialFake(t, srv)

	closed := make(chan error, 2)
	conn.OnClose(func(err error) { closed <- err })
	conn.Start()

	if err := conn.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("expected nil error for local close, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnClose not called")
	}

	select {
	case <-closed:
		t.Error("OnClose called twice")
	case <-time.After(100 * time.Millisecond):
	}

	err := conn.Send(protocol.ReadSubmit("yes"))
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != SendError {
		t.Fatalf("expected SendError, got %v", err)
	}
	if !errors.Is(err, model.ErrSend) {
		t.Error("expected errors.Is(err, ErrSend)")
	}
}

func TestRemoteCloseReportsError(t *testing.T) {
	srv := evaltest.NewServer(t)
	conn := dialFake(t, srv)

	closed := make(chan error, 1)
	conn.OnClose(func(err error) { closed <- err })
	conn.Start()

	srv.CloseConn()

	select {
	case err := <-closed:
		if err == nil {
			t.Error("expected non-nil error for remote close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnClose not called")
	}
	<-conn.Done()
}

func TestCloseBeforeStart(t *testing.T) {
	srv := evaltest.NewServer(t)
	conn := dialFake(t, srv)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
	conn.Start()
}
