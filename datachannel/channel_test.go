// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package datachannel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go2link/go2link/frame"
	"github.com/go2link/go2link/lib/clock"
	"github.com/go2link/go2link/lib/testutil"
)

type channelHarness struct {
	channel       *Channel
	sender        *testutil.RecordingSender
	clock         *clock.FakeClock
	subscriptions *Subscriptions
	validated     chan struct{}
	peerErrors    chan Message
	observed      chan Message
}

func newChannelHarness(t *testing.T) *channelHarness {
	t.Helper()
	codec, err := frame.NewCodec(frame.ModeNative)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	harness := &channelHarness{
		sender:        testutil.NewRecordingSender(32),
		clock:         clock.Fake(epoch),
		subscriptions: NewSubscriptions(),
		validated:     make(chan struct{}, 1),
		peerErrors:    make(chan Message, 4),
		observed:      make(chan Message, 64),
	}
	harness.channel = New(harness.sender, Options{
		Codec:          codec,
		Subscriptions:  harness.subscriptions,
		RequestTimeout: 5 * time.Second,
		Clock:          harness.clock,
		Logger:         discardLogger(),
		OnValidated:    func() { harness.validated <- struct{}{} },
		OnPeerError:    func(message Message) { harness.peerErrors <- message },
		OnMessage: func(message Message) {
			select {
			case harness.observed <- message:
			default:
			}
		},
	})
	t.Cleanup(func() { harness.channel.Close(&ConnectionClosedError{Reason: "test cleanup"}) })
	return harness
}

func (h *channelHarness) text(payload string) {
	h.channel.HandleMessage([]byte(payload), true)
}

// validate runs the peer's side of the handshake.
func (h *channelHarness) validate(t *testing.T) {
	t.Helper()
	h.channel.HandleOpen()
	h.text(`{"type":"validation","topic":"","data":"1234567890"}`)
	h.text(`{"type":"validation","topic":"","data":"Validation Ok."}`)
	testutil.RequireReceive(t, h.validated, 5*time.Second, "OnValidated")
	// Drain the challenge reply.
	testutil.RequireReceive(t, h.sender.Sent(), 5*time.Second, "challenge reply")
}

func TestChannel_RefusesTrafficUntilValidated(t *testing.T) {
	harness := newChannelHarness(t)

	if _, err := harness.channel.Publish(context.Background(), "rt/api/sport/request", nil, TypeRequest); !errors.Is(err, ErrNotValidated) {
		t.Errorf("Publish before open = %v, want ErrNotValidated", err)
	}

	harness.channel.HandleOpen()
	if err := harness.channel.PublishWithoutCallback("", "on", TypeVideo); !errors.Is(err, ErrNotValidated) {
		t.Errorf("PublishWithoutCallback while open but unvalidated = %v, want ErrNotValidated", err)
	}
	if harness.channel.Ready() {
		t.Error("Ready before validation")
	}
	if len(harness.sender.Messages()) != 0 {
		t.Errorf("sent %v on an unvalidated channel", harness.sender.Messages())
	}
}

func TestChannel_ValidationStartsMonitorAndUnlocksPublish(t *testing.T) {
	harness := newChannelHarness(t)
	harness.validate(t)

	if !harness.channel.Ready() {
		t.Fatal("not Ready after validation")
	}
	replies := harness.sender.OfType(TypeValidation)
	if len(replies) != 1 || replies[0]["data"] != AnswerChallenge("1234567890") {
		t.Fatalf("validation replies = %v", replies)
	}

	// Heartbeat and status tickers are armed.
	harness.clock.WaitForTimers(2)
	harness.clock.Advance(HeartbeatInterval)
	heartbeat := decodeSent(t, testutil.RequireReceive(t, harness.sender.Sent(), 5*time.Second, "heartbeat"))
	if heartbeat.Type != TypeHeartbeat {
		t.Errorf("first monitor message type = %q, want heartbeat", heartbeat.Type)
	}

	results := make(chan publishResult, 1)
	go func() {
		reply, err := harness.channel.Publish(context.Background(), "rt/api/sport/request", map[string]any{"api_id": 1001.0}, TypeRequest)
		results <- publishResult{message: reply, err: err}
	}()
	request := decodeSent(t, testutil.RequireReceive(t, harness.sender.Sent(), 5*time.Second, "request"))
	harness.text(`{"type":"res","topic":"rt/api/sport/request","id":"` + request.ID + `","data":{"code":0}}`)

	result := testutil.RequireReceive(t, results, 5*time.Second, "reply")
	if result.err != nil {
		t.Fatalf("Publish: %v", result.err)
	}
	if code, _ := result.message.DataField("code"); code != 0.0 {
		t.Errorf("reply code = %v", code)
	}
}

func TestChannel_BinaryFrameReachesSubscribers(t *testing.T) {
	harness := newChannelHarness(t)
	harness.validate(t)

	received := make(chan Message, 2)
	harness.subscriptions.Subscribe("rt/utlidar/voxel_map", func(message Message) { received <- message })

	encoded, err := frame.EncodeNormal(map[string]any{
		"type":  "msg",
		"topic": "rt/utlidar/voxel_map",
		"data":  map[string]any{"stamp": 1.5},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	harness.channel.HandleMessage(encoded, false)

	message := testutil.RequireReceive(t, received, 5*time.Second, "binary message")
	if stamp, _ := message.DataField("stamp"); stamp != 1.5 {
		t.Errorf("stamp = %v, want 1.5", stamp)
	}
}

func TestChannel_MalformedInputIsDropped(t *testing.T) {
	harness := newChannelHarness(t)
	harness.validate(t)

	received := make(chan Message, 2)
	harness.subscriptions.Subscribe("rt/lf/lowstate", func(message Message) { received <- message })

	harness.channel.HandleMessage([]byte{0x05, 0x00, 0xff, 0xff, '{'}, false)
	harness.text(`{not json`)
	harness.text(`{"type":"msg","topic":"rt/lf/lowstate","data":{"ok":true}}`)

	message := testutil.RequireReceive(t, received, 5*time.Second, "message after malformed input")
	if ok, _ := message.DataField("ok"); ok != true {
		t.Errorf("data.ok = %v", ok)
	}
	if !harness.channel.Ready() {
		t.Error("malformed input closed the channel")
	}
}

func TestChannel_UnknownTypeDropped(t *testing.T) {
	harness := newChannelHarness(t)
	harness.validate(t)

	harness.subscriptions.Subscribe("rt/custom", func(message Message) {
		t.Errorf("subscriber received unknown type %q", message.Type)
	})
	harness.text(`{"type":"mystery","topic":"rt/custom","data":{}}`)
}

func TestChannel_OnMessageSeesKnownTypes(t *testing.T) {
	harness := newChannelHarness(t)
	harness.validate(t)

	harness.text(`{"type":"mystery","topic":"rt/custom","data":{}}`)
	harness.text(`{"type":"rtc_inner_req","topic":"","info":{"req_type":"rtt_probe_send_from_mechine"}}`)
	harness.text(`{"type":"msg","topic":"rt/lf/lowstate","data":{"tick":3}}`)

	var types []string
	for len(harness.observed) > 0 {
		message := <-harness.observed
		types = append(types, message.Type+" "+message.Topic)
	}
	want := []string{"validation ", "validation ", "msg rt/lf/lowstate"}
	if len(types) != len(want) {
		t.Fatalf("observed %q, want %q", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("observed[%d] = %q, want %q", i, types[i], want[i])
		}
	}
}

func TestChannel_EchoesRTTProbe(t *testing.T) {
	harness := newChannelHarness(t)
	harness.validate(t)

	harness.text(`{"type":"rtc_inner_req","topic":"","data":{"seq":7},"info":{"req_type":"rtt_probe_send_from_mechine"}}`)
	echo := decodeSent(t, testutil.RequireReceive(t, harness.sender.Sent(), 5*time.Second, "probe echo"))
	if echo.Type != TypeRTCInnerRequest {
		t.Fatalf("echo type = %q", echo.Type)
	}
	if seq, _ := echo.DataField("seq"); seq != 7.0 {
		t.Errorf("echo data.seq = %v, want 7", seq)
	}
	if requestType, _ := echo.InfoField("req_type"); requestType != rttProbeRequest {
		t.Errorf("echo info.req_type = %v", requestType)
	}
}

func TestChannel_ErrDuringValidation(t *testing.T) {
	harness := newChannelHarness(t)
	harness.channel.HandleOpen()

	harness.text(`{"type":"err","topic":"","info":"Validation Needed."}`)

	validator := harness.channel.Validator()
	testutil.RequireClosed(t, validator.Done(), 5*time.Second, "validation finished")
	if !errors.Is(validator.Err(), ErrValidationFailed) {
		t.Errorf("validator error = %v, want ErrValidationFailed", validator.Err())
	}
	peerError := testutil.RequireReceive(t, harness.peerErrors, 5*time.Second, "OnPeerError")
	if peerError.Type != TypeErr {
		t.Errorf("peer error type = %q", peerError.Type)
	}
}

func TestChannel_CloseStopsMonitorAndRejectsPending(t *testing.T) {
	harness := newChannelHarness(t)
	harness.validate(t)
	harness.clock.WaitForTimers(2)

	results := make(chan publishResult, 1)
	go func() {
		reply, err := harness.channel.Publish(context.Background(), "rt/api/sport/request", nil, TypeRequest)
		results <- publishResult{message: reply, err: err}
	}()
	testutil.RequireReceive(t, harness.sender.Sent(), 5*time.Second, "request")

	harness.channel.HandleClose()

	result := testutil.RequireReceive(t, results, 5*time.Second, "rejected publish")
	var closed *ConnectionClosedError
	if !errors.As(result.err, &closed) {
		t.Fatalf("pending publish error = %v, want *ConnectionClosedError", result.err)
	}

	before := len(harness.sender.Messages())
	harness.clock.Advance(time.Minute)
	if after := len(harness.sender.Messages()); after != before {
		t.Errorf("%d messages sent after Close", after-before)
	}
	if harness.channel.Ready() {
		t.Error("Ready after Close")
	}
}
