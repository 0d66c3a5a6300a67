package session

import (
	"encoding/json"
	"testing"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateListening, "listening"},
		{StateProcessing, "processing"},
		{StateSpeaking, "speaking"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
	}

	for _, tc := range tests {
		if tc.state.String() != tc.want {
			t.Errorf("State(%d).String() = %q; want %q", tc.state, tc.state.String(), tc.want)
		}
	}
}

func TestState_JSON(t *testing.T) {
	tests := []State{
		StateIdle,
		StateListening,
		StateProcessing,
		StateSpeaking,
		StateStopped,
	}

	for _, state := range tests {
		data, err := json.Marshal(state)
		if err != nil {
			t.Errorf("Marshal State(%d) error: %v", state, err)
			continue
		}

		var restored State
		if err := json.Unmarshal(data, &restored); err != nil {
			t.Errorf("Unmarshal State error: %v", err)
			continue
		}

		if restored != state {
			t.Errorf("State JSON roundtrip: got %v, want %v", restored, state)
		}
	}
}

func TestState_UnmarshalUnknown(t *testing.T) {
	var s State
	if err := json.Unmarshal([]byte(`"no_such_state"`), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s != StateIdle {
		t.Fatalf("unknown state = %v, want %v", s, StateIdle)
	}
}
