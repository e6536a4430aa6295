// Package relayclient connects a participant to the relay hub over WebSocket.
package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/call"
	"github.com/vovakirdan/wirecall/internal/proto"
)

const (
	defaultWriteTimeout = 5 * time.Second
	readLimit           = 256 << 10
)

// Handler receives relay traffic. *call.Machine implements it.
type Handler interface {
	IdentityAssigned(identity string)
	ReceiveInvite(from string, inv call.Invite)
	ReceiveAcceptance(from string, payload []byte)
	ReceiveDisconnect(from string)
}

// Client is one participant's relay connection. It implements call.Signaler.
type Client struct {
	conn         *websocket.Conn
	log          zerolog.Logger
	writeTimeout time.Duration

	mu       sync.Mutex
	identity string
}

// Dial connects to the relay socket at rawURL, announcing name as the
// display name.
func Dial(ctx context.Context, rawURL, name string, logger *zerolog.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if name != "" {
		q := u.Query()
		q.Set("name", name)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(readLimit)

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "relayclient").Logger()
	}
	return &Client{conn: conn, log: l, writeTimeout: defaultWriteTimeout}, nil
}

// Identity returns the identity assigned by the relay, or "" before it
// arrives.
func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Run reads relay messages and dispatches them to h until the connection
// closes or ctx is cancelled. A normal closure returns nil.
func (c *Client) Run(ctx context.Context, h Handler) error {
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, c.conn, &out); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("read relay: %w", err)
		}
		c.dispatch(out, h)
	}
}

func (c *Client) dispatch(out proto.Outbound, h Handler) {
	switch out.Type {
	case proto.TypeIdentityAssigned:
		var data proto.IdentityAssignedData
		if err := json.Unmarshal(out.Data, &data); err != nil || data.Identity == "" {
			c.log.Warn().Err(err).Msg("malformed identity-assigned")
			return
		}
		if data.Protocol != proto.ProtocolVersion {
			c.log.Warn().Int("relay_protocol", data.Protocol).Int("client_protocol", proto.ProtocolVersion).Msg("protocol version mismatch")
		}
		c.mu.Lock()
		c.identity = data.Identity
		c.mu.Unlock()
		h.IdentityAssigned(data.Identity)
	case proto.TypeCallOffer:
		var data proto.CallOfferData
		if err := json.Unmarshal(out.Data, &data); err != nil {
			c.log.Warn().Err(err).Str("from", out.From).Msg("malformed call-offer")
			return
		}
		h.ReceiveInvite(out.From, call.Invite{
			TargetIdentity:    data.TargetIdentity,
			CallerIdentity:    out.From,
			CallerDisplayName: data.CallerDisplayName,
			CallerRole:        data.CallerRole,
			SetupPayload:      data.SetupPayload,
		})
	case proto.TypeCallAnswer:
		var data proto.CallAnswerData
		if err := json.Unmarshal(out.Data, &data); err != nil {
			c.log.Warn().Err(err).Str("from", out.From).Msg("malformed call-answer")
			return
		}
		h.ReceiveAcceptance(out.From, data.SetupPayload)
	case proto.TypeDisconnectNotify:
		h.ReceiveDisconnect(out.From)
	case proto.TypeError:
		if out.Error != nil {
			c.log.Warn().Str("code", out.Error.Code).Str("msg", out.Error.Msg).Msg("relay rejected message")
		}
	default:
		c.log.Debug().Str("type", out.Type).Msg("ignoring unknown relay message")
	}
}

// SendInvite implements call.Signaler.
func (c *Client) SendInvite(inv call.Invite) error {
	return c.send(proto.TypeCallOffer, proto.CallOfferData{
		TargetIdentity:    inv.TargetIdentity,
		CallerIdentity:    inv.CallerIdentity,
		CallerDisplayName: inv.CallerDisplayName,
		CallerRole:        inv.CallerRole,
		SetupPayload:      inv.SetupPayload,
	})
}

// SendAcceptance implements call.Signaler.
func (c *Client) SendAcceptance(target string, payload []byte) error {
	return c.send(proto.TypeCallAnswer, proto.CallAnswerData{TargetIdentity: target, SetupPayload: payload})
}

// SendDisconnect implements call.Signaler.
func (c *Client) SendDisconnect(target string) error {
	return c.send(proto.TypeDisconnectNotify, proto.DisconnectNotifyData{TargetIdentity: target})
}

func (c *Client) send(msgType string, data any) error {
	inbound, err := proto.NewInbound(msgType, data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, inbound); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	c.log.Debug().Str("type", msgType).Msg("sent")
	return nil
}

// Close closes the relay connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

var _ call.Signaler = (*Client)(nil)
