package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ashureev/clovekernel/internal/eventbus"
	"github.com/ashureev/clovekernel/internal/kerr"
	"github.com/ashureev/clovekernel/internal/session"
)

type subscribeRequest struct {
	Type string `json:"type"`
}

type subscribeResponse struct {
	Success    bool `json:"success"`
	Subscribed bool `json:"subscribed,omitempty"`
}

// handleSubscribe adds an event type to the caller's subscription mask
// (spec §4.5).
func handleSubscribe(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req subscribeRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	if req.Type == "" {
		return nil, kerr.New(kerr.BadRequest, "type is required")
	}
	k.Bus.Subscribe(sess.ID, req.Type)
	return subscribeResponse{Success: true, Subscribed: true}, nil
}

type unsubscribeResponse struct {
	Success      bool `json:"success"`
	Unsubscribed bool `json:"unsubscribed,omitempty"`
}

// handleUnsubscribe removes an event type from the caller's mask (spec §4.5).
func handleUnsubscribe(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req subscribeRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	k.Bus.Unsubscribe(sess.ID, req.Type)
	return unsubscribeResponse{Success: true, Unsubscribed: true}, nil
}

type pollEventsRequest struct {
	Max int `json:"max"`
}

type pollEventsResponse struct {
	Success bool            `json:"success"`
	Events  []eventbus.Event `json:"events"`
	Count   int             `json:"count"`
}

// handlePollEvents drains up to max queued events for the caller (spec §4.5).
func handlePollEvents(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req pollEventsRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	events := k.Bus.Poll(sess.ID, req.Max)
	if events == nil {
		events = []eventbus.Event{}
	}
	return pollEventsResponse{Success: true, Events: events, Count: len(events)}, nil
}

type emitRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type emitResponse struct {
	Success     bool `json:"success"`
	DeliveredTo int  `json:"delivered_to"`
}

// handleEmit posts an event of the caller's type (CUSTOM when none is
// given) with the caller's payload to every subscriber whose mask
// includes that type (spec §4.5).
func handleEmit(k *Kernel, ctx context.Context, sess *session.Session, payload []byte) (any, error) {
	var req emitRequest
	if err := decodeStrict(payload, &req); err != nil {
		return nil, err
	}
	eventType := req.Type
	if eventType == "" {
		eventType = eventbus.EventCustom
	}
	delivered := k.Bus.Publish(eventbus.Event{Type: eventType, Data: req.Data, At: time.Now()})
	return emitResponse{Success: true, DeliveredTo: delivered}, nil
}
