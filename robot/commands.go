// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package robot

import (
	"context"

	"github.com/go2link/go2link/datachannel"
)

// Publish sends a request on topic and waits for the correlated reply.
// Outside Ready it fails with a *NotReadyError.
func (c *Connection) Publish(ctx context.Context, topic string, payload any, messageType string) (datachannel.Message, error) {
	current, err := c.readyLink("publish")
	if err != nil {
		return datachannel.Message{}, err
	}
	return current.channel.Publish(ctx, topic, payload, messageType)
}

// PublishWithoutCallback sends a message that expects no reply.
func (c *Connection) PublishWithoutCallback(topic string, payload any, messageType string) error {
	current, err := c.readyLink("publish")
	if err != nil {
		return err
	}
	return current.channel.PublishWithoutCallback(topic, payload, messageType)
}

// Subscribe registers handler for inbound messages on topic. The
// handler survives reconnects. It does not ask the robot to start
// sending the topic; see SubscribeTopic.
//
// handler runs on the connection's dispatch goroutine and must not
// block. Calling Publish from it stalls all inbound traffic until the
// request times out; start a goroutine instead.
func (c *Connection) Subscribe(topic string, handler datachannel.Handler) (unsubscribe func()) {
	return c.subscriptions.Subscribe(topic, handler)
}

// SubscribeTopic registers handler and asks the robot to publish topic.
// The request is repeated after every reconnect.
func (c *Connection) SubscribeTopic(topic string, handler datachannel.Handler) (unsubscribe func(), err error) {
	current, err := c.readyLink("subscribe")
	if err != nil {
		return nil, err
	}
	if err := current.channel.PublishWithoutCallback(topic, nil, datachannel.TypeSubscribe); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.peerTopics[topic] = true
	c.mu.Unlock()
	return c.subscriptions.Subscribe(topic, handler), nil
}

// UnsubscribeTopic asks the robot to stop publishing topic and drops
// every handler registered for it. The local handlers are dropped even
// when the connection is not ready.
func (c *Connection) UnsubscribeTopic(topic string) error {
	c.mu.Lock()
	delete(c.peerTopics, topic)
	c.mu.Unlock()
	c.subscriptions.RemoveTopic(topic)

	current, err := c.readyLink("unsubscribe")
	if err != nil {
		return err
	}
	return current.channel.PublishWithoutCallback(topic, nil, datachannel.TypeUnsubscribe)
}

// SwitchVideo turns the robot's video track on or off.
func (c *Connection) SwitchVideo(on bool) error {
	return c.PublishWithoutCallback("", onOff(on), datachannel.TypeVideo)
}

// SwitchAudio turns the robot's audio track on or off.
func (c *Connection) SwitchAudio(on bool) error {
	return c.PublishWithoutCallback("", onOff(on), datachannel.TypeAudio)
}

// DisableTrafficSaving toggles the robot's traffic saving mode and
// reports whether the robot executed the request.
func (c *Connection) DisableTrafficSaving(ctx context.Context, on bool) (bool, error) {
	reply, err := c.Publish(ctx, "", map[string]any{
		"req_type":    "disable_traffic_saving",
		"instruction": onOff(on),
	}, datachannel.TypeRTCInnerRequest)
	if err != nil {
		return false, err
	}
	execution, _ := reply.InfoField("execution")
	return execution == "ok", nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
