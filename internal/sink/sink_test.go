package sink

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func TestHTTPSinkSuccessOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "token abc123" {
			t.Errorf("expected Authorization header, got %q", got)
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	s, err := NewHTTPSink(HTTPConfig{Endpoint: srv.URL, Token: "abc123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	res := s.Post(ctx, []byte(`{"events":[]}`))
	if res.Status != Success {
		t.Fatalf("expected Success, got %v (%s)", res.Status, res.Message)
	}
}

func TestHTTPSinkSuccessOn202(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(202)
	}))
	defer srv.Close()

	s, _ := NewHTTPSink(HTTPConfig{Endpoint: srv.URL})
	ctx := context.Background()
	s.Connect(ctx)
	res := s.Post(ctx, []byte(`{}`))
	if res.Status != Success {
		t.Fatalf("expected Success for 202, got %v", res.Status)
	}
}

func TestHTTPSinkFatalAuthOn401And403(t *testing.T) {
	for _, code := range []int{401, 403} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		s, _ := NewHTTPSink(HTTPConfig{Endpoint: srv.URL})
		ctx := context.Background()
		s.Connect(ctx)
		res := s.Post(ctx, []byte(`{}`))
		if res.Status != FatalAuth {
			t.Errorf("code %d: expected FatalAuth, got %v", code, res.Status)
		}
		srv.Close()
	}
}

func TestHTTPSinkTransientOn5xxAnd4xx(t *testing.T) {
	for _, code := range []int{500, 503, 400, 404} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		s, _ := NewHTTPSink(HTTPConfig{Endpoint: srv.URL})
		ctx := context.Background()
		s.Connect(ctx)
		res := s.Post(ctx, []byte(`{}`))
		if res.Status != Transient {
			t.Errorf("code %d: expected Transient, got %v", code, res.Status)
		}
		srv.Close()
	}
}

func TestHTTPSinkTransientOnConnectionFailure(t *testing.T) {
	s, _ := NewHTTPSink(HTTPConfig{Endpoint: "http://127.0.0.1:1"}) // nothing listening
	ctx := context.Background()
	s.Connect(ctx)
	res := s.Post(ctx, []byte(`{}`))
	if res.Status != Transient {
		t.Fatalf("expected Transient on connection failure, got %v", res.Status)
	}
}

func TestHTTPSinkRedirectLimitIsTransient(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/loop", http.StatusFound)
	}))
	defer srv.Close()

	s, _ := NewHTTPSink(HTTPConfig{Endpoint: srv.URL, MaxRedirects: 2})
	ctx := context.Background()
	s.Connect(ctx)
	res := s.Post(ctx, []byte(`{}`))
	if res.Status != Transient {
		t.Fatalf("expected Transient once redirect cap is hit, got %v (%s)", res.Status, res.Message)
	}
}

func TestHTTPSinkCloseForcesReconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	s, _ := NewHTTPSink(HTTPConfig{Endpoint: srv.URL})
	ctx := context.Background()
	s.Connect(ctx)
	if !s.Connected() {
		t.Fatal("expected connected after Connect")
	}
	s.Close()
	if s.Connected() {
		t.Fatal("expected not connected after Close")
	}
	s.Connect(ctx)
	res := s.Post(ctx, []byte(`{}`))
	if res.Status != Success {
		t.Fatalf("expected reconnect to succeed, got %v", res.Status)
	}
}

func TestTCPSinkWritesFullBody(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
		conn.Write([]byte("ok\n"))
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	s, err := NewTCPSink(TCPConfig{Host: host, Port: port})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	res := s.Post(ctx, []byte("{\"k\":1}\n"))
	if res.Status != Success {
		t.Fatalf("expected Success, got %v (%s)", res.Status, res.Message)
	}

	select {
	case line := <-received:
		if line != "{\"k\":1}\n" {
			t.Fatalf("expected exact line written, got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received data")
	}
}

func TestTCPSinkReadsResponseOffSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()

	closeConn := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		bufio.NewReader(conn).ReadString('\n')
		// Deliberately never write a response: a real blocking read on the
		// client side should wait out its own receive deadline instead of
		// returning immediately, unlike a zero-length no-op read.
		<-closeConn
	}()
	defer close(closeConn)

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	s, err := NewTCPSink(TCPConfig{Host: host, Port: port, ReceiveTimeout: 80 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	start := time.Now()
	res := s.Post(ctx, []byte("{\"k\":1}\n"))
	elapsed := time.Since(start)

	if res.Status != Success {
		t.Fatalf("expected Success (response is advisory), got %v (%s)", res.Status, res.Message)
	}
	if elapsed < 60*time.Millisecond {
		t.Fatalf("expected Post to block close to the receive deadline waiting on a real socket read, only took %v", elapsed)
	}
	s.Close()
}

func TestTCPSinkDefaultPort(t *testing.T) {
	s, err := NewTCPSink(TCPConfig{Host: "localhost"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.cfg.Port != defaultTCPPort {
		t.Fatalf("expected default port %d, got %d", defaultTCPPort, s.cfg.Port)
	}
}

func TestTCPSinkTransientWhenNotConnected(t *testing.T) {
	s, _ := NewTCPSink(TCPConfig{Host: "localhost", Port: 1})
	res := s.Post(context.Background(), []byte("x"))
	if res.Status != Transient {
		t.Fatalf("expected Transient when not connected, got %v", res.Status)
	}
}
