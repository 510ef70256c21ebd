package api

import "encoding/json"

type ClientMessageEvent string
type ServerMessageEvent string

const (
	ClientMessageEventSubscribe          = ClientMessageEvent("subscribe")
	ClientMessageEventUnsubscribe        = ClientMessageEvent("unsubscribe")
	ClientMessageEventAppend             = ClientMessageEvent("append")
	ClientMessageEventSet                = ClientMessageEvent("set")
	ClientMessageEventRemove             = ClientMessageEvent("remove")
	ClientMessageEventOnDisconnectRemove = ClientMessageEvent("on_disconnect_remove")
	ClientMessageEventPong               = ClientMessageEvent("pong")
)

const (
	ServerMessageEventAck          = ServerMessageEvent("ack")
	ServerMessageEventChildAdded   = ServerMessageEvent("child_added")
	ServerMessageEventChildRemoved = ServerMessageEvent("child_removed")
	ServerMessageEventPing         = ServerMessageEvent("ping")
)

// ClientMessage is a request from a backend client. RequestID doubles as the subscription id
// for subscribe requests.
type ClientMessage struct {
	Event          ClientMessageEvent `json:"event"`
	RequestID      uint64             `json:"requestId"`
	Path           string             `json:"path,omitempty"`
	Value          json.RawMessage    `json:"value,omitempty"`
	SubscriptionID uint64             `json:"subscriptionId,omitempty"`
	Ping           *PingMessage       `json:"ping,omitempty"`
}

type ServerMessage struct {
	Event ServerMessageEvent `json:"event"`
	Ack   *AckMessage        `json:"ack,omitempty"`
	Child *ChildMessage      `json:"child,omitempty"`
	Ping  *PingMessage       `json:"ping,omitempty"`
}

type AckMessage struct {
	RequestID uint64 `json:"requestId"`
	Key       string `json:"key,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ChildMessage struct {
	SubscriptionID uint64          `json:"subscriptionId"`
	Key            string          `json:"key"`
	Value          json.RawMessage `json:"value,omitempty"`
}

type PingMessage struct {
	Timestamp int64 `json:"timestamp"`
}
