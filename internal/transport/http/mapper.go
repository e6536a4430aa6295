package http

import (
	"encoding/json"

	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/proto"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	var target string
	switch inbound.Type {
	case proto.TypeCallOffer:
		var offer proto.CallOfferData
		if err := json.Unmarshal(inbound.Data, &offer); err != nil {
			return nil, &proto.Error{Code: proto.ErrCodeBadRequest, Msg: "malformed call-offer"}
		}
		if len(offer.SetupPayload) == 0 {
			return nil, &proto.Error{Code: proto.ErrCodeBadRequest, Msg: "setupPayload is required"}
		}
		target = offer.TargetIdentity
	case proto.TypeCallAnswer:
		var answer proto.CallAnswerData
		if err := json.Unmarshal(inbound.Data, &answer); err != nil {
			return nil, &proto.Error{Code: proto.ErrCodeBadRequest, Msg: "malformed call-answer"}
		}
		if len(answer.SetupPayload) == 0 {
			return nil, &proto.Error{Code: proto.ErrCodeBadRequest, Msg: "setupPayload is required"}
		}
		target = answer.TargetIdentity
	case proto.TypeDisconnectNotify:
		var notify proto.DisconnectNotifyData
		if len(inbound.Data) > 0 {
			if err := json.Unmarshal(inbound.Data, &notify); err != nil {
				return nil, &proto.Error{Code: proto.ErrCodeBadRequest, Msg: "malformed disconnect-notify"}
			}
		}
		target = notify.TargetIdentity
	default:
		return nil, &proto.Error{Code: proto.ErrCodeInvalidMessage, Msg: "unknown message type"}
	}

	if target == "" {
		return nil, &proto.Error{Code: proto.ErrCodeBadRequest, Msg: "targetIdentity is required"}
	}
	return &core.Command{
		Kind:    core.RelayKind(inbound.Type),
		Target:  target,
		Payload: inbound.Data,
	}, nil
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventIdentityAssigned:
		data, _ := json.Marshal(proto.IdentityAssignedData{
			Identity: event.Identity,
			Protocol: proto.ProtocolVersion,
		})
		return proto.Outbound{Type: proto.TypeIdentityAssigned, Data: data}
	case core.EventRelay:
		data := json.RawMessage(event.Payload)
		if len(data) == 0 {
			data = json.RawMessage(`{}`)
		}
		return proto.Outbound{Type: string(event.Relay), From: event.From, Data: data}
	default:
		return proto.Outbound{Type: proto.TypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown event"}}
	}
}
