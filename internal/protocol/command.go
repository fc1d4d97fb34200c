package protocol

import (
	"encoding/json"
	"fmt"
)

// Traffic-signal controller operations accepted by the bridge. The "tls"
// naming is the wire protocol's: traffic-light systems, not transport
// security.
const (
	TLSCmdNext   = "next"
	TLSCmdPrev   = "prev"
	TLSCmdSet    = "set"
	TLSCmdResume = "resume"
	TLSCmdReset  = "reset"
)

// ValidTLSOp reports whether op is a known controller operation.
func ValidTLSOp(op string) bool {
	switch op {
	case TLSCmdNext, TLSCmdPrev, TLSCmdSet, TLSCmdResume, TLSCmdReset:
		return true
	}
	return false
}

// TLSCommand drives a controller's phase program.
type TLSCommand struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Cmd        string `json:"cmd"`
	PhaseIndex *int   `json:"phaseIndex,omitempty"`
}

// NewTLSCommand builds a phase-program command for the given internal
// controller id.
func NewTLSCommand(id, cmd string, phaseIndex *int) TLSCommand {
	return TLSCommand{Type: "tls", ID: id, Cmd: cmd, PhaseIndex: phaseIndex}
}

// TLSStateCommand forces an explicit phase string on a controller.
type TLSStateCommand struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Phase string `json:"phase"`
}

// NewTLSStateCommand builds a forced-phase command for the given internal
// controller id.
func NewTLSStateCommand(id, phase string) TLSStateCommand {
	return TLSStateCommand{Type: "tls_state", ID: id, Phase: phase}
}

// EncodeCommand serializes a command to exactly one line terminated by a
// single line feed. There is no framing beyond the newline and no
// correlation id: the bridge never acknowledges commands, so an effect is
// only observable in later viz frames.
func EncodeCommand(cmd interface{}) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	return append(data, '\n'), nil
}
