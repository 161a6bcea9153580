// Package diagnostics turns the control loop counters into records an
// operator can act on.
package diagnostics

import (
	"github.com/coreman2200/povpoi/internal/bridge"
	"github.com/coreman2200/povpoi/internal/dispatch"
	"github.com/coreman2200/povpoi/internal/protocol"
)

type Severity string

const (
	Info Severity = "info"
	Warn Severity = "warning"
	Err  Severity = "error"
)

type Diagnostic struct {
	Severity       Severity       `json:"severity"`
	Code           string         `json:"code"`
	Summary        string         `json:"summary"`
	Detail         string         `json:"detail,omitempty"`
	LikelyCauses   []string       `json:"likely_causes,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// Link is the per-port view of a snapshot. Bridge is nil for wired links.
type Link struct {
	Name   string         `json:"name"`
	Framer protocol.Stats `json:"framer"`
	Bridge *bridge.Stats  `json:"bridge,omitempty"`
	Closed bool           `json:"closed,omitempty"`
}

// Snapshot is a copy of the loop state taken between steps.
type Snapshot struct {
	Links        []Link         `json:"links"`
	Dispatch     dispatch.Stats `json:"dispatch"`
	Frames       uint64         `json:"frames"`
	RenderErrors uint64         `json:"render_errors"`
	RenderMS     float64        `json:"render_ms"`
	Mode         string         `json:"mode"`
	Index        uint8          `json:"index"`
	Brightness   uint8          `json:"brightness"`
	Limited      uint8          `json:"limited_brightness"`
}
