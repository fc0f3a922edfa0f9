// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
)

// Method selects how the robot is reached.
type Method string

const (
	// MethodRemote goes through the vendor cloud and a TURN relay.
	MethodRemote Method = "remote"

	// MethodLocalSTA reaches a robot joined to the same network.
	MethodLocalSTA Method = "local-sta"

	// MethodLocalAP reaches the robot over its own access point.
	MethodLocalAP Method = "local-ap"
)

// DefaultAccessPointIP is the robot's address on its own access point.
const DefaultAccessPointIP = "192.168.12.1"

// ParseMethod validates a method name.
func ParseMethod(name string) (Method, error) {
	switch method := Method(name); method {
	case MethodRemote, MethodLocalSTA, MethodLocalAP:
		return method, nil
	default:
		return "", fmt.Errorf("unknown connection method %q (valid: %s, %s, %s)", name, MethodRemote, MethodLocalSTA, MethodLocalAP)
	}
}

// Target identifies the robot to connect to.
type Target struct {
	Method Method
	// Serial is the robot's serial number. Required for MethodRemote;
	// used for discovery with MethodLocalSTA when IP is empty.
	Serial string
	// IP is the robot's address for the local methods.
	IP string
}

func (t Target) String() string {
	switch {
	case t.IP != "" && t.Serial != "":
		return fmt.Sprintf("%s %s (%s)", t.Method, t.Serial, t.IP)
	case t.IP != "":
		return fmt.Sprintf("%s %s", t.Method, t.IP)
	case t.Serial != "":
		return fmt.Sprintf("%s %s", t.Method, t.Serial)
	default:
		return string(t.Method)
	}
}

// Validate checks that the target carries what its method needs.
// MethodLocalSTA with only a serial is valid; the IP is discovered at
// negotiation time.
func (t Target) Validate() error {
	switch t.Method {
	case MethodRemote:
		if t.Serial == "" {
			return errors.New("remote connections need a serial number")
		}
	case MethodLocalSTA:
		if t.IP == "" && t.Serial == "" {
			return errors.New("local-sta connections need an IP address or a serial number to discover")
		}
	case MethodLocalAP:
	default:
		_, err := ParseMethod(string(t.Method))
		return err
	}
	return nil
}

// offerID is the "id" field the robot expects in local offers.
func (t Target) offerID() string {
	if t.Method == MethodLocalSTA {
		return "STA_localNetwork"
	}
	return ""
}
