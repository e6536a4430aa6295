package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirecall/internal/proto"
)

// ws_smoke opens two relay connections and pushes one offer, answer and
// disconnect-notify between them, checking that each arrives stamped with
// the sender's identity.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

type peerConn struct {
	conn     *websocket.Conn
	identity string
}

func run() error {
	addr := flag.String("addr", "ws://localhost:5000/ws", "relay WebSocket address")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	caller, err := connect(ctx, *addr, "smoke-caller")
	if err != nil {
		return err
	}
	defer caller.conn.Close(websocket.StatusNormalClosure, "bye")

	callee, err := connect(ctx, *addr, "smoke-callee")
	if err != nil {
		return err
	}
	defer callee.conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("caller=%s callee=%s\n", caller.identity, callee.identity)

	steps := []struct {
		from, to *peerConn
		msgType  string
		data     any
	}{
		{caller, callee, proto.TypeCallOffer, proto.CallOfferData{
			TargetIdentity:    callee.identity,
			CallerDisplayName: "smoke-caller",
			SetupPayload:      []byte(`{"type":"offer","sdp":"smoke"}`),
		}},
		{callee, caller, proto.TypeCallAnswer, proto.CallAnswerData{
			TargetIdentity: caller.identity,
			SetupPayload:   []byte(`{"type":"answer","sdp":"smoke"}`),
		}},
		{caller, callee, proto.TypeDisconnectNotify, proto.DisconnectNotifyData{TargetIdentity: callee.identity}},
	}

	for _, step := range steps {
		inbound, err := proto.NewInbound(step.msgType, step.data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", step.msgType, err)
		}
		if err := wsjson.Write(ctx, step.from.conn, inbound); err != nil {
			return fmt.Errorf("send %s: %w", step.msgType, err)
		}

		var outbound proto.Outbound
		if err := wsjson.Read(ctx, step.to.conn, &outbound); err != nil {
			return fmt.Errorf("read %s: %w", step.msgType, err)
		}
		if outbound.Error != nil {
			return fmt.Errorf("relay error %s: %s", outbound.Error.Code, outbound.Error.Msg)
		}
		if outbound.Type != step.msgType || outbound.From != step.from.identity {
			return fmt.Errorf("got type=%s from=%s, want type=%s from=%s",
				outbound.Type, outbound.From, step.msgType, step.from.identity)
		}
		fmt.Printf("relayed %s (%d bytes)\n", outbound.Type, len(outbound.Data))
	}

	fmt.Println("ok")
	return nil
}

func connect(ctx context.Context, addr, name string) (*peerConn, error) {
	conn, _, err := websocket.Dial(ctx, addr+"?name="+name, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	var outbound proto.Outbound
	if err := wsjson.Read(ctx, conn, &outbound); err != nil {
		conn.Close(websocket.StatusInternalError, "no identity")
		return nil, fmt.Errorf("read identity: %w", err)
	}
	if outbound.Type != proto.TypeIdentityAssigned {
		conn.Close(websocket.StatusInternalError, "no identity")
		return nil, fmt.Errorf("first message %q, want %s", outbound.Type, proto.TypeIdentityAssigned)
	}
	var assigned proto.IdentityAssignedData
	if err := json.Unmarshal(outbound.Data, &assigned); err != nil {
		conn.Close(websocket.StatusInternalError, "bad identity")
		return nil, fmt.Errorf("unmarshal identity: %w", err)
	}
	return &peerConn{conn: conn, identity: assigned.Identity}, nil
}
