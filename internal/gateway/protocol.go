package gateway

import (
	"encoding/json"
	"log"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

// WebSocket message types. Client sends SUBSCRIBE/UNSUBSCRIBE, server answers
// with SUBSCRIBED + SNAPSHOT and then streams VALUE frames until UNSUBSCRIBE
// or disconnect.
const (
	MsgSubscribe    = "SUBSCRIBE"
	MsgUnsubscribe  = "UNSUBSCRIBE"
	MsgSubscribed   = "SUBSCRIBED"
	MsgUnsubscribed = "UNSUBSCRIBED"
	MsgSnapshot     = "SNAPSHOT"
	MsgValue        = "VALUE"
	MsgError        = "ERROR"
)

// SubscribeMsg requests a live stream for one indicator spec.
type SubscribeMsg struct {
	Type    string             `json:"type"`
	ReqID   string             `json:"req_id,omitempty"`
	Symbol  string             `json:"symbol"`
	TF      string             `json:"tf"`
	Kind    string             `json:"kind"`
	Params  map[string]float64 `json:"params"`
	History int                `json:"history,omitempty"` // snapshot depth, default 100
}

// UnsubscribeMsg cancels one subscription by its server-assigned id.
type UnsubscribeMsg struct {
	Type  string `json:"type"`
	SubID string `json:"sub_id"`
}

// SubscribedMsg acknowledges a SUBSCRIBE with the assigned subscription id.
type SubscribedMsg struct {
	Type   string `json:"type"`
	ReqID  string `json:"req_id,omitempty"`
	SubID  string `json:"sub_id"`
	SpecID string `json:"spec_id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// SnapshotMsg carries the cached series state at subscribe time. Live VALUE
// frames may overlap its tail; consumers key on ts.
type SnapshotMsg struct {
	Type        string        `json:"type"`
	SubID       string        `json:"sub_id"`
	SpecID      string        `json:"spec_id"`
	Values      []model.Value `json:"values"`
	Provisional *model.Value  `json:"provisional,omitempty"`
}

// ValueMsg streams one computed value to a subscription.
type ValueMsg struct {
	Type  string      `json:"type"`
	SubID string      `json:"sub_id"`
	Value model.Value `json:"value"`
}

// ErrorMsg reports a failed request.
type ErrorMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
	Error string `json:"error"`
}

// SendJSON marshals and enqueues a message without blocking. Slow clients
// drop frames rather than stall the publisher; messages for a removed
// client are discarded.
func SendJSON(c *Client, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] marshal error: %v", err)
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		if c.hub.met != nil {
			c.hub.met.WSDroppedFrames.Inc()
		}
		return false
	}
}

// SendError sends an ERROR frame tied to the originating request.
func SendError(c *Client, reqID, msg string) {
	SendJSON(c, ErrorMsg{Type: MsgError, ReqID: reqID, Error: msg})
}
