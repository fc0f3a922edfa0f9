// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
)

// newLocalEndpoint serves handler and returns a signaler pointed at it
// plus the IP to pass to SendOfferLocal.
func newLocalEndpoint(t *testing.T, handler http.HandlerFunc) (*HTTPSignaler, string) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portText, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatal(err)
	}

	signaler := NewHTTPSignaler(server.Client())
	signaler.Port = port
	return signaler, host
}

func TestHTTPSignaler_PostsOffer(t *testing.T) {
	var gotPath, gotContentType, gotUserAgent, gotBody string
	signaler, ip := newLocalEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotUserAgent = r.Header.Get("User-Agent")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{"sdp":"v=0","type":"answer"}`))
	})

	answer, err := signaler.SendOfferLocal(context.Background(), ip, []byte(`{"id":"STA_localNetwork"}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(answer) != `{"sdp":"v=0","type":"answer"}` {
		t.Errorf("answer = %q", answer)
	}
	if gotPath != "/offer" || gotContentType != "application/json" || gotBody != `{"id":"STA_localNetwork"}` {
		t.Errorf("request path=%q content-type=%q body=%q", gotPath, gotContentType, gotBody)
	}
	if !strings.HasPrefix(gotUserAgent, "go2link/") {
		t.Errorf("User-Agent = %q", gotUserAgent)
	}
}

func TestHTTPSignaler_EmptyBodyIsNoAnswer(t *testing.T) {
	signaler, ip := newLocalEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("  \n"))
	})

	answer, err := signaler.SendOfferLocal(context.Background(), ip, []byte(`{}`))
	if err != nil || answer != nil {
		t.Fatalf("SendOfferLocal = %q, %v; want nil, nil", answer, err)
	}
}

func TestHTTPSignaler_ErrorStatus(t *testing.T) {
	signaler, ip := newLocalEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "signaling disabled", http.StatusServiceUnavailable)
	})

	_, err := signaler.SendOfferLocal(context.Background(), ip, []byte(`{}`))
	if err == nil {
		t.Fatal("expected an error for a 503")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "signaling disabled") {
		t.Errorf("error %q lacks status or body", err)
	}
}

func TestHTTPSignaler_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	signaler, ip := newLocalEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := signaler.SendOfferLocal(ctx, ip, []byte(`{}`)); err == nil {
		t.Fatal("cancelled context did not fail the request")
	}
}

func TestHTTPSignaler_Remote(t *testing.T) {
	signaler := NewHTTPSignaler(nil)
	if _, err := signaler.SendOfferRemote(context.Background(), "serial", []byte(`{}`)); err == nil {
		t.Fatal("remote offer without a remote signaler succeeded")
	}

	memory := NewMemorySignaler(func(ctx context.Context, address string, offer []byte) ([]byte, error) {
		return []byte("answer for " + address), nil
	})
	signaler.Remote = memory
	answer, err := signaler.SendOfferRemote(context.Background(), "B42", []byte(`{}`))
	if err != nil || string(answer) != "answer for B42" {
		t.Fatalf("SendOfferRemote = %q, %v", answer, err)
	}
}
