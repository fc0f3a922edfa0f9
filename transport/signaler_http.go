// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go2link/go2link/lib/netutil"
	"github.com/go2link/go2link/lib/version"
)

// DefaultLocalSignalingPort is the robot's offer endpoint port.
const DefaultLocalSignalingPort = 8081

// Compile-time interface check.
var _ Signaler = (*HTTPSignaler)(nil)

// HTTPSignaler posts offers to the robot's local HTTP endpoint at
// http://<ip>:<port>/offer. It only handles local methods; remote
// offers fail unless Remote is set.
type HTTPSignaler struct {
	Client *http.Client
	Port   int

	// Remote, if set, handles SendOfferRemote.
	Remote Signaler
}

// NewHTTPSignaler returns a local signaler using client (nil means a
// client without its own timeout; the negotiation context bounds it).
func NewHTTPSignaler(client *http.Client) *HTTPSignaler {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSignaler{Client: client, Port: DefaultLocalSignalingPort}
}

func (s *HTTPSignaler) SendOfferRemote(ctx context.Context, serial string, offer []byte) ([]byte, error) {
	if s.Remote == nil {
		return nil, errors.New("local HTTP signaler cannot reach remote robots")
	}
	return s.Remote.SendOfferRemote(ctx, serial, offer)
}

// SendOfferLocal posts the offer. An empty body is returned as a nil
// answer; transport failures and non-2xx statuses are errors.
func (s *HTTPSignaler) SendOfferLocal(ctx context.Context, ip string, offer []byte) ([]byte, error) {
	port := s.Port
	if port == 0 {
		port = DefaultLocalSignalingPort
	}
	url := "http://" + net.JoinHostPort(ip, strconv.Itoa(port)) + "/offer"

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(offer))
	if err != nil {
		return nil, fmt.Errorf("building offer request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", version.UserAgent())

	response, err := s.Client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("posting offer to %s: %w", url, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("posting offer to %s: status %d: %s", url, response.StatusCode, netutil.ErrorBody(response.Body))
	}
	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading answer from %s: %w", url, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	return body, nil
}
