package sequence

import (
	"time"

	"github.com/coreman2200/povpoi/internal/display"
	"github.com/coreman2200/povpoi/internal/store"
)

// Hooks are optional callbacks fired as playback moves.
type Hooks struct {
	// Advance fires when the player moves to item index i.
	Advance func(i uint8, item store.Item)
	// Finish fires once when a non-looping sequence freezes on its last item.
	Finish func()
}

// Player drives a display.Playback through a store.Sequence. It owns no
// timing state of its own: the playback lives in the display context so a
// selection change can reset it atomically.
type Player struct {
	pb    *display.Playback
	hooks Hooks
}

func NewPlayer(pb *display.Playback, h Hooks) *Player {
	return &Player{pb: pb, hooks: h}
}

// Start rewinds to the first item at now.
func (p *Player) Start(now time.Time) {
	*p.pb = display.Playback{ItemStart: now, Playing: true, Started: true}
}

// Stop freezes playback on the current item.
func (p *Player) Stop() { p.pb.Playing = false }

func (p *Player) State() State {
	if p.pb.Playing {
		return Running
	}
	return Stopped
}

// Tick advances playback for seq at now and returns the item to show.
// It never indexes past seq.Count-1.
func (p *Player) Tick(seq *store.Sequence, now time.Time) (store.Item, bool) {
	if seq == nil || seq.Count == 0 {
		return 0, false
	}
	pb := p.pb
	if !pb.Started {
		pb.CurrentItem = 0
		pb.ItemStart = now
		pb.Started = true
	}
	if pb.CurrentItem >= seq.Count {
		// sequence was replaced by a shorter one
		pb.CurrentItem = 0
		pb.ItemStart = now
	}
	if !pb.Playing {
		return seq.Items[pb.CurrentItem], true
	}

	// catch up at most one full pass per tick; zero durations cannot spin
	for steps := 0; steps < int(seq.Count); steps++ {
		dur := time.Duration(seq.Durations[pb.CurrentItem]) * time.Millisecond
		if now.Sub(pb.ItemStart) < dur {
			break
		}
		next := pb.CurrentItem + 1
		if next >= seq.Count {
			if !seq.Loop {
				pb.Playing = false
				if p.hooks.Finish != nil {
					p.hooks.Finish()
				}
				break
			}
			next = 0
		}
		pb.CurrentItem = next
		pb.ItemStart = pb.ItemStart.Add(dur)
		if p.hooks.Advance != nil {
			p.hooks.Advance(next, seq.Items[next])
		}
	}
	if pb.Playing && now.Sub(pb.ItemStart) > time.Duration(seq.Durations[pb.CurrentItem])*time.Millisecond*time.Duration(seq.Count) {
		// far behind (stalled loop); restart the item timer instead of replaying history
		pb.ItemStart = now
	}
	return seq.Items[pb.CurrentItem], true
}
