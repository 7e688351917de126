package service

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/storeledger/internal/domain"
)

// EncodeEvent serialises an event as a protobuf Struct. Seq is carried as a
// string because Struct numbers are doubles.
func EncodeEvent(ev domain.Event) ([]byte, error) {
	fields := make(map[string]any, len(ev.Fields))
	for k, v := range ev.Fields {
		fields[k] = v
	}
	st, err := structpb.NewStruct(map[string]any{
		"kind":   string(ev.Kind),
		"seq":    strconv.FormatUint(ev.Seq, 10),
		"at":     ev.At.UTC().Format(time.RFC3339Nano),
		"fields": fields,
	})
	if err != nil {
		return nil, fmt.Errorf("event codec: build struct: %w", err)
	}
	b, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("event codec: marshal: %w", err)
	}
	return b, nil
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(b []byte) (domain.Event, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(b, &st); err != nil {
		return domain.Event{}, fmt.Errorf("event codec: unmarshal: %w", err)
	}
	m := st.GetFields()

	ev := domain.Event{
		Kind:   domain.EventKind(m["kind"].GetStringValue()),
		Fields: make(map[string]string),
	}
	if ev.Kind == "" {
		return domain.Event{}, fmt.Errorf("event codec: missing kind")
	}
	if s := m["seq"].GetStringValue(); s != "" {
		seq, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return domain.Event{}, fmt.Errorf("event codec: seq: %w", err)
		}
		ev.Seq = seq
	}
	if s := m["at"].GetStringValue(); s != "" {
		at, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return domain.Event{}, fmt.Errorf("event codec: at: %w", err)
		}
		ev.At = at
	}
	for k, v := range m["fields"].GetStructValue().GetFields() {
		ev.Fields[k] = v.GetStringValue()
	}
	return ev, nil
}
