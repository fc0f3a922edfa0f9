// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are used when the configuration names none.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// ICEConfig holds the STUN servers offered on every connection. TURN is
// added per connection from relay credentials.
type ICEConfig struct {
	// STUNServers are STUN URLs. Nil means DefaultSTUNServers; an empty
	// non-nil slice disables STUN (host candidates only).
	STUNServers []string

	// IncludeLoopback gathers loopback candidates. Only useful when the
	// robot end runs on the same host, as in tests.
	IncludeLoopback bool
}

// RelayCredentials are the TURN credentials the cloud hands out for a
// remote connection. The JSON names are the cloud's.
type RelayCredentials struct {
	User     string `json:"user"`
	Password string `json:"passwd"`
	// Realm is the TURN URL.
	Realm string `json:"realm"`
}

func (c *RelayCredentials) validate() error {
	if c.User == "" || c.Password == "" || c.Realm == "" {
		return errors.New("relay credentials need user, passwd, and realm")
	}
	return nil
}

// servers returns the pion ICE server list: STUN first, then the TURN
// relay when credentials are given.
func (c ICEConfig) servers(relay *RelayCredentials) ([]webrtc.ICEServer, error) {
	stun := c.STUNServers
	if stun == nil {
		stun = DefaultSTUNServers
	}

	var servers []webrtc.ICEServer
	for _, url := range stun {
		if url == "" {
			continue
		}
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}

	if relay != nil {
		if err := relay.validate(); err != nil {
			return nil, err
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{relay.Realm},
			Username:   relay.User,
			Credential: relay.Password,
		})
	}
	return servers, nil
}
