package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestValidTLSOp(t *testing.T) {
	tests := []struct {
		op       string
		expected bool
	}{
		{"next", true},
		{"prev", true},
		{"set", true},
		{"resume", true},
		{"reset", true},
		{"jump", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidTLSOp(tt.op); got != tt.expected {
			t.Errorf("ValidTLSOp(%q) = %v, want %v", tt.op, got, tt.expected)
		}
	}
}

func TestEncodeCommand_SingleTrailingNewline(t *testing.T) {
	phase := 2
	line, err := EncodeCommand(NewTLSCommand("cluster_2505", TLSCmdSet, &phase))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !bytes.HasSuffix(line, []byte("\n")) {
		t.Fatal("encoded command must end with a newline")
	}
	if bytes.Count(line, []byte("\n")) != 1 {
		t.Error("encoded command must contain exactly one newline")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(line), &decoded); err != nil {
		t.Fatalf("command line is not valid JSON: %v", err)
	}
	if decoded["type"] != "tls" || decoded["cmd"] != "set" {
		t.Errorf("unexpected wire form: %v", decoded)
	}
	if decoded["phaseIndex"] != float64(2) {
		t.Errorf("phaseIndex = %v, want 2", decoded["phaseIndex"])
	}
}

func TestEncodeCommand_PhaseIndexOmittedWhenNil(t *testing.T) {
	line, err := EncodeCommand(NewTLSCommand("gneJ44", TLSCmdNext, nil))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if bytes.Contains(line, []byte("phaseIndex")) {
		t.Errorf("phaseIndex should be absent: %s", line)
	}
}

func TestEncodeCommand_TLSState(t *testing.T) {
	line, err := EncodeCommand(NewTLSStateCommand("cluster_2505", "rrGG"))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var decoded TLSStateCommand
	if err := json.Unmarshal(bytes.TrimSpace(line), &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Type != "tls_state" || decoded.Phase != "rrGG" {
		t.Errorf("unexpected wire form: %+v", decoded)
	}
}
