package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096

	defaultSnapshotDepth = 100
	registerTimeout      = 10 * time.Second
)

// subscription is one live stream of a client, keyed by a server-assigned id.
type subscription struct {
	id     string
	spec   model.Spec
	specID string
}

// Client represents a single WebSocket peer. send is never closed; done is
// closed on removal so late senders (a SUBSCRIBE still registering with the
// engine, a concurrent Publish) can never hit a closed channel.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	hub  *Hub

	subMu  sync.RWMutex
	subs   map[string]*subscription // sub id -> subscription
	bySpec map[string][]string      // spec id -> sub ids
}

func (c *Client) subCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs)
}

// deliver routes a published value to this client's matching subscriptions.
func (c *Client) deliver(v model.Value) {
	c.subMu.RLock()
	ids := c.bySpec[v.SpecID]
	c.subMu.RUnlock()

	for _, id := range ids {
		SendJSON(c, ValueMsg{Type: MsgValue, SubID: id, Value: v})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// Coalesce queued frames into one write, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case MsgSubscribe:
			var sub SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				SendError(c, "", "invalid SUBSCRIBE: "+err.Error())
				continue
			}
			go c.handleSubscribe(sub)

		case MsgUnsubscribe:
			var unsub UnsubscribeMsg
			if err := json.Unmarshal(msg, &unsub); err != nil {
				continue
			}
			c.handleUnsubscribe(unsub)
		}
	}
}

// handleSubscribe registers the requested spec with the engine (idempotent),
// stores the subscription and answers with SUBSCRIBED plus a cache snapshot.
// The subscription is live before the snapshot is built, so its tail may
// overlap the first VALUE frames; consumers dedupe on ts.
func (c *Client) handleSubscribe(msg SubscribeMsg) {
	tf, err := model.ParseTimeframe(msg.TF)
	if err != nil {
		SendError(c, msg.ReqID, err.Error())
		return
	}
	spec := model.Spec{Symbol: msg.Symbol, Timeframe: tf, Kind: msg.Kind, Params: msg.Params}
	if spec.Symbol == "" {
		SendError(c, msg.ReqID, "symbol is required")
		return
	}
	specID := spec.ID()

	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	defer cancel()
	if err := c.hub.reg.Register(ctx, spec); err != nil {
		switch {
		case errors.Is(err, model.ErrValidation):
			SendError(c, msg.ReqID, "invalid spec: "+err.Error())
		case errors.Is(err, model.ErrNotFound):
			SendError(c, msg.ReqID, "unknown symbol: "+msg.Symbol)
		default:
			SendError(c, msg.ReqID, "subscribe failed: "+err.Error())
		}
		return
	}

	sub := &subscription{id: uuid.NewString(), spec: spec, specID: specID}
	c.subMu.Lock()
	c.subs[sub.id] = sub
	c.bySpec[specID] = append(c.bySpec[specID], sub.id)
	c.subMu.Unlock()
	if c.hub.met != nil {
		c.hub.met.WSSubscriptions.Inc()
	}
	log.Printf("[gateway] subscribed: %s (sub %s)", specID, sub.id)

	status := string(model.StatusWarming)
	if latest, ok := c.hub.cache.Latest(specID); ok {
		status = string(latest.Status)
	}
	SendJSON(c, SubscribedMsg{
		Type:   MsgSubscribed,
		ReqID:  msg.ReqID,
		SubID:  sub.id,
		SpecID: specID,
		Name:   spec.Name(),
		Status: status,
	})

	depth := msg.History
	if depth <= 0 || depth > 1000 {
		depth = defaultSnapshotDepth
	}
	values := c.hub.cache.Range(specID, time.Time{}, farFuture)
	if len(values) > depth {
		values = values[len(values)-depth:]
	}
	snap := SnapshotMsg{Type: MsgSnapshot, SubID: sub.id, SpecID: specID, Values: values}
	if prov, ok := c.hub.cache.Provisional(specID); ok {
		snap.Provisional = &prov
	}
	SendJSON(c, snap)
	c.hub.reg.Touch(spec)
}

// handleUnsubscribe cancels one subscription by id.
func (c *Client) handleUnsubscribe(msg UnsubscribeMsg) {
	c.subMu.Lock()
	sub, ok := c.subs[msg.SubID]
	if ok {
		delete(c.subs, msg.SubID)
		ids := c.bySpec[sub.specID]
		for i, id := range ids {
			if id == msg.SubID {
				c.bySpec[sub.specID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(c.bySpec[sub.specID]) == 0 {
			delete(c.bySpec, sub.specID)
		}
	}
	c.subMu.Unlock()
	if !ok {
		return
	}

	if c.hub.met != nil {
		c.hub.met.WSSubscriptions.Dec()
	}
	SendJSON(c, UnsubscribeAck(msg.SubID))
	log.Printf("[gateway] unsubscribed: %s (sub %s)", sub.specID, msg.SubID)
}

// farFuture bounds open-ended cache range queries.
var farFuture = time.Unix(1<<40, 0)

// UnsubscribeAck builds the UNSUBSCRIBED acknowledgement frame.
func UnsubscribeAck(subID string) UnsubscribeMsg {
	return UnsubscribeMsg{Type: MsgUnsubscribed, SubID: subID}
}
