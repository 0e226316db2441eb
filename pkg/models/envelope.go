package models

import (
	"encoding/json"
	"fmt"
)

// Envelope 消息队列中的事件格式，type 决定其余字段的解析方式
type Envelope struct {
	Type string `json:"type"`
}

// DecodeEvent 按 type 解析事件，未知类型或缺少 request_id 返回 ErrMalformedEvent
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case "begin":
		var e BeginEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case "header":
		var e HeaderEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case "complete":
		var e CompleteEvent
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID() == "" {
		return nil, fmt.Errorf("%w: missing request_id", ErrMalformedEvent)
	}
	return ev, nil
}

// EncodeEvent DecodeEvent 的逆操作
func EncodeEvent(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", ev.Kind()))
	return json.Marshal(fields)
}
