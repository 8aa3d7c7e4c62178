package recorder

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestReplaySkipsNonDeterministicOpcodes(t *testing.T) {
	entries := []Entry{
		{Seq: 1, AgentID: 1, Opcode: "SYS_WRITE", Request: json.RawMessage(`{}`)},
		{Seq: 2, AgentID: 1, Opcode: "SYS_THINK", Request: json.RawMessage(`{}`)},
		{Seq: 3, AgentID: 1, Opcode: "SYS_READ", Request: json.RawMessage(`{}`)},
	}

	replayer := NewReplayer()
	replayer.Start(entries, func(agentID uint32, opcode string, req json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})

	st := replayer.Status()
	if st.State != ReplayDone || st.EntriesReplayed != 2 || st.EntriesSkipped != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestReplayFailsOnDispatchError(t *testing.T) {
	entries := []Entry{
		{Seq: 1, AgentID: 1, Opcode: "SYS_WRITE", Request: json.RawMessage(`{}`)},
	}

	replayer := NewReplayer()
	replayer.Start(entries, func(agentID uint32, opcode string, req json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})

	st := replayer.Status()
	if st.State != ReplayFailed || st.Error == "" {
		t.Fatalf("expected failed status with error, got %+v", st)
	}
}

func TestReplayEmptyEntriesIsImmediatelyDone(t *testing.T) {
	replayer := NewReplayer()
	replayer.Start(nil, func(agentID uint32, opcode string, req json.RawMessage) (json.RawMessage, error) {
		t.Fatal("dispatch should not be called for empty entries")
		return nil, nil
	})

	st := replayer.Status()
	if st.State != ReplayDone || st.TotalEntries != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
}
