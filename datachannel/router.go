// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package datachannel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go2link/go2link/lib/clock"
)

// DefaultRequestTimeout bounds a Publish when the router is built with
// a zero timeout.
const DefaultRequestTimeout = 10 * time.Second

// Sender writes one text message to the data channel. Implementations
// must be safe for concurrent use.
type Sender interface {
	SendText(text string) error
}

// pendingRequest is one Publish waiting for its reply. It is removed
// from the router before done is closed, so it resolves at most once.
type pendingRequest struct {
	id          string
	messageType string
	topic       string
	// requestType is the req_type of an rtc_inner_req payload, used to
	// tell apart id-less replies that share a type and topic.
	requestType string

	done     chan struct{}
	response Message
	err      error
}

// Router turns topic-addressed requests into blocking calls and routes
// inbound messages back to them.
type Router struct {
	sender        Sender
	subscriptions *Subscriptions
	clock         clock.Clock
	logger        *slog.Logger
	timeout       time.Duration
	newID         func() string

	mu sync.Mutex
	// pending maps correlation id to request.
	pending map[string]*pendingRequest
	// unlabelled holds the same requests in publish order, keyed by
	// type and topic, for replies that carry no id.
	unlabelled map[string][]*pendingRequest
	closedErr  error
}

// NewRouter builds a router. subscriptions may be shared across routers.
func NewRouter(sender Sender, subscriptions *Subscriptions, timeout time.Duration, clk clock.Clock, logger *slog.Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Router{
		sender:        sender,
		subscriptions: subscriptions,
		clock:         clk,
		logger:        logger,
		timeout:       timeout,
		newID:         uuid.NewString,
		pending:       make(map[string]*pendingRequest),
		unlabelled:    make(map[string][]*pendingRequest),
	}
}

// Publish sends payload as messageType on topic and waits for the
// correlated reply. It fails with *RequestTimeoutError when no reply
// arrives in time, with ctx.Err() on cancellation, and with
// *ConnectionClosedError when the router closes first. Concurrent calls
// get independent ids and never share a result.
func (r *Router) Publish(ctx context.Context, topic string, payload any, messageType string) (Message, error) {
	r.mu.Lock()
	if r.closedErr != nil {
		err := r.closedErr
		r.mu.Unlock()
		return Message{}, err
	}
	request := &pendingRequest{
		id:          r.newID(),
		messageType: messageType,
		topic:       topic,
		requestType: innerRequestType(messageType, payload),
		done:        make(chan struct{}),
	}
	r.pending[request.id] = request
	key := fallbackKey(messageType, topic)
	r.unlabelled[key] = append(r.unlabelled[key], request)
	r.mu.Unlock()

	envelope := Message{
		Type:  messageType,
		Topic: topic,
		ID:    request.id,
		Data:  stampIdentity(messageType, payload, request.id),
	}
	if err := r.send(envelope); err != nil {
		r.abandon(request)
		return Message{}, err
	}

	select {
	case <-request.done:
		return request.response, request.err
	case <-ctx.Done():
		if r.abandon(request) {
			return Message{}, ctx.Err()
		}
	case <-r.clock.After(r.timeout):
		if r.abandon(request) {
			return Message{}, &RequestTimeoutError{Type: messageType, Topic: topic, Timeout: r.timeout}
		}
	}
	// Resolved while we were giving up; the reply wins.
	<-request.done
	return request.response, request.err
}

// PublishWithoutCallback sends payload and returns once it is written.
// No reply is tracked.
func (r *Router) PublishWithoutCallback(topic string, payload any, messageType string) error {
	r.mu.Lock()
	closedErr := r.closedErr
	r.mu.Unlock()
	if closedErr != nil {
		return closedErr
	}
	return r.send(Message{Type: messageType, Topic: topic, Data: payload})
}

func (r *Router) send(message Message) error {
	encoded, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", message.Type, err)
	}
	if err := r.sender.SendText(string(encoded)); err != nil {
		return fmt.Errorf("sending %s message on %q: %w", message.Type, message.Topic, err)
	}
	return nil
}

// Resolve fulfils the pending request the message answers, if any, and
// then hands the message to the subscribers of its topic. A message with
// an unknown id is not an error; it simply resolves nothing. It reports
// whether a pending request was fulfilled.
func (r *Router) Resolve(message Message) bool {
	request := r.take(message)
	if request != nil {
		request.response = message
		close(request.done)
	}
	r.subscriptions.Deliver(message)
	return request != nil
}

// take removes and returns the request message answers.
func (r *Router) take(message Message) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var request *pendingRequest
	if id := message.correlationID(); id != "" {
		request = r.pending[id]
	} else {
		request = oldestMatching(r.unlabelled[fallbackKey(message.Type, message.Topic)], replyRequestType(message))
	}
	if request == nil {
		return nil
	}
	r.removeLocked(request)
	return request
}

// oldestMatching returns the first queued request a reply of
// requestType can answer. A reply without a request type takes the
// oldest; a request without one accepts any reply.
func oldestMatching(queue []*pendingRequest, requestType string) *pendingRequest {
	for _, request := range queue {
		if requestType == "" || request.requestType == "" || request.requestType == requestType {
			return request
		}
	}
	return nil
}

// abandon removes request if it is still pending and reports whether it
// did. false means a reply or Close already claimed it.
func (r *Router) abandon(request *pendingRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[request.id]; !ok {
		return false
	}
	r.removeLocked(request)
	return true
}

func (r *Router) removeLocked(request *pendingRequest) {
	delete(r.pending, request.id)
	key := fallbackKey(request.messageType, request.topic)
	queue := r.unlabelled[key]
	for index, queued := range queue {
		if queued == request {
			queue = append(queue[:index:index], queue[index+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(r.unlabelled, key)
	} else {
		r.unlabelled[key] = queue
	}
}

// Close rejects every pending request with err and refuses new ones.
// Later calls are no-ops.
func (r *Router) Close(err error) {
	r.mu.Lock()
	if r.closedErr != nil {
		r.mu.Unlock()
		return
	}
	r.closedErr = err
	rejected := make([]*pendingRequest, 0, len(r.pending))
	for _, request := range r.pending {
		rejected = append(rejected, request)
	}
	r.pending = make(map[string]*pendingRequest)
	r.unlabelled = make(map[string][]*pendingRequest)
	r.mu.Unlock()

	for _, request := range rejected {
		request.err = err
		close(request.done)
	}
	if len(rejected) > 0 {
		r.logger.Debug("rejected pending requests", "count", len(rejected), "error", err)
	}
}

// PendingCount returns the number of requests awaiting replies.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// stampIdentity mirrors the correlation id into data.header.identity.id
// for "req" messages, where the peer echoes the identity in its reply.
// The caller's payload is copied, never modified.
func stampIdentity(messageType string, payload any, id string) any {
	if messageType != TypeRequest {
		return payload
	}
	object, ok := payload.(map[string]any)
	if !ok {
		return payload
	}
	stamped := make(map[string]any, len(object)+1)
	for key, value := range object {
		stamped[key] = value
	}
	header := map[string]any{}
	if existing, ok := object["header"].(map[string]any); ok {
		for key, value := range existing {
			header[key] = value
		}
	}
	identity := map[string]any{}
	if existing, ok := header["identity"].(map[string]any); ok {
		for key, value := range existing {
			identity[key] = value
		}
	}
	identity["id"] = id
	header["identity"] = identity
	stamped["header"] = header
	return stamped
}

// innerRequestType extracts req_type from an rtc_inner_req payload.
func innerRequestType(messageType string, payload any) string {
	if messageType != TypeRTCInnerRequest {
		return ""
	}
	object, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	requestType, _ := object["req_type"].(string)
	return requestType
}

// replyRequestType reads the req_type an rtc_inner_req reply echoes in
// info, or in data when info lacks it.
func replyRequestType(message Message) string {
	if message.Type != TypeRTCInnerRequest {
		return ""
	}
	for _, lookup := range []func(...string) (any, bool){message.InfoField, message.DataField} {
		if value, ok := lookup("req_type"); ok {
			if requestType, ok := value.(string); ok && requestType != "" {
				return requestType
			}
		}
	}
	return ""
}
