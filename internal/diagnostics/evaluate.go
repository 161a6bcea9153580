package diagnostics

import "fmt"

// Thresholds are fractions of received frames.
const (
	dropWarn  = 0.05
	dropError = 0.25
)

// Evaluate inspects s and returns one record per problem found. A healthy
// snapshot yields a single LOOP.OK record.
func Evaluate(s Snapshot) []Diagnostic {
	var out []Diagnostic
	for _, l := range s.Links {
		out = append(out, framing(l)...)
		if l.Bridge != nil {
			out = append(out, wireless(l)...)
		}
		if l.Closed {
			out = append(out, Diagnostic{
				Severity: Err, Code: "LINK.CLOSED",
				Summary:        fmt.Sprintf("%s link closed", l.Name),
				LikelyCauses:   []string{"serial adapter unplugged", "peer closed the connection"},
				SuggestedFixes: []string{"reconnect the adapter and restart the daemon"},
				Evidence:       map[string]any{"link": l.Name},
			})
		}
	}
	if s.RenderErrors > 0 {
		out = append(out, Diagnostic{
			Severity: Err, Code: "RENDER.SINK",
			Summary:        "LED sink rejected frames",
			LikelyCauses:   []string{"SPI port busy or unavailable", "strip length does not match display.num_leds"},
			SuggestedFixes: []string{"check spi.dev and the wiring", "run with driver: sim to isolate the strip"},
			Evidence:       map[string]any{"errors": s.RenderErrors, "frames": s.Frames},
		})
	}
	if s.Dispatch.Unknown > 0 {
		out = append(out, Diagnostic{
			Severity: Info, Code: "DISPATCH.UNKNOWN",
			Summary:  "Frames with unknown opcodes were ignored",
			Evidence: map[string]any{"unknown": s.Dispatch.Unknown},
		})
	}
	if s.Limited < s.Brightness {
		out = append(out, Diagnostic{
			Severity: Info, Code: "POWER.LIMITED",
			Summary:  "Brightness reduced to stay within the current budget",
			Evidence: map[string]any{"requested": s.Brightness, "applied": s.Limited},
		})
	}
	if len(out) == 0 {
		out = append(out, Diagnostic{Severity: Info, Code: "LOOP.OK", Summary: "No problems detected"})
	}
	return out
}

func framing(l Link) []Diagnostic {
	st := l.Framer
	bad := st.Dropped + st.Timeouts + st.Overflows
	total := st.Frames + bad
	if bad == 0 || total == 0 {
		return nil
	}
	rate := float64(bad) / float64(total)
	sev := Info
	switch {
	case rate >= dropError:
		sev = Err
	case rate >= dropWarn:
		sev = Warn
	}
	d := Diagnostic{
		Severity: sev, Code: "FRAMING.DROPS",
		Summary: fmt.Sprintf("%s link dropped %.0f%% of frames", l.Name, rate*100),
		Evidence: map[string]any{
			"link": l.Name, "frames": st.Frames, "dropped": st.Dropped,
			"timeouts": st.Timeouts, "overflows": st.Overflows,
		},
	}
	if st.Overflows > 0 {
		d.LikelyCauses = append(d.LikelyCauses, "sender declares payloads larger than the frame buffer")
		d.SuggestedFixes = append(d.SuggestedFixes, "split uploads or resize images to at most 128x64")
	}
	if st.Timeouts > 0 {
		d.LikelyCauses = append(d.LikelyCauses, "sender stalls mid-frame", "baud rate mismatch")
		d.SuggestedFixes = append(d.SuggestedFixes, "match serial.baud on both ends")
	}
	if st.Dropped > 0 {
		d.LikelyCauses = append(d.LikelyCauses, "line noise or a length field that disagrees with the payload", "host sends opcodes this firmware does not know")
	}
	return []Diagnostic{d}
}

func wireless(l Link) []Diagnostic {
	st := *l.Bridge
	var out []Diagnostic
	if st.Overflows > 0 {
		out = append(out, Diagnostic{
			Severity: Warn, Code: "BRIDGE.OVERFLOW",
			Summary:        fmt.Sprintf("%s: wireless commands exceeded the command buffer", l.Name),
			LikelyCauses:   []string{"missing end marker", "image uploads sent over the wireless link"},
			SuggestedFixes: []string{"terminate every command with 0xD1", "upload images over the wired link"},
			Evidence:       map[string]any{"link": l.Name, "overflows": st.Overflows},
		})
	}
	if st.Unknown > 0 {
		out = append(out, Diagnostic{
			Severity: Info, Code: "BRIDGE.UNKNOWN",
			Summary:  fmt.Sprintf("%s: unknown wireless codes were ignored", l.Name),
			Evidence: map[string]any{"link": l.Name, "unknown": st.Unknown},
		})
	}
	return out
}
