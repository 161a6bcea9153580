package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct{ got [][]byte }

func (s *sink) Send(b []byte) bool { s.got = append(s.got, b); return true }

func newRunner() (*Runner, *sink, *[]time.Duration) {
	s := &sink{}
	var slept []time.Duration
	r := NewRunner(s, zerolog.Nop())
	r.Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, s, &slept
}

func TestCommandsProduceFrames(t *testing.T) {
	r, s, _ := newRunner()
	err := r.RunString(context.Background(), `
		pattern(0, "plasma", rgb(32, 0, 64), "002040", 8)
		mode("pattern", 0)
		brightness(200)
	`)
	require.NoError(t, err)
	require.Len(t, s.got, 3)
	assert.Equal(t, []byte{0xFF, 0x03, 9, 0, 7, 32, 0, 64, 0, 0x20, 0x40, 8, 0xFE}, s.got[0])
	assert.Equal(t, []byte{0xFF, 0x01, 2, 2, 0, 0xFE}, s.got[1])
	assert.Equal(t, []byte{0xFF, 0x06, 1, 200, 0xFE}, s.got[2])
	assert.Equal(t, 3, r.Sent)
}

func TestLoopsAndSleep(t *testing.T) {
	r, s, slept := newRunner()
	require.NoError(t, r.RunString(context.Background(), `
		for i = 0, 200, 100 do
			brightness(i)
			sleep(20)
		end
	`))
	assert.Len(t, s.got, 3)
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 20 * time.Millisecond, 20 * time.Millisecond}, *slept)
}

func TestBadCommandStopsScript(t *testing.T) {
	r, s, _ := newRunner()
	err := r.RunString(context.Background(), `
		brightness(999)
		brightness(1)
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brightness")
	assert.Empty(t, s.got)
}

func TestSendRawBytes(t *testing.T) {
	r, s, _ := newRunner()
	require.NoError(t, r.RunString(context.Background(), `send("ff1000fe")`))
	assert.Equal(t, [][]byte{{0xFF, 0x10, 0x00, 0xFE}}, s.got)
}

func TestCancelledSleepEndsScript(t *testing.T) {
	s := &sink{}
	r := NewRunner(s, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.RunString(ctx, `sleep(10000) brightness(1)`)
	assert.Error(t, err)
	assert.Empty(t, s.got)
}

func TestRunFile(t *testing.T) {
	r, s, _ := newRunner()
	path := filepath.Join(t.TempDir(), "show.lua")
	require.NoError(t, os.WriteFile(path, []byte(`status()`), 0o644))
	require.NoError(t, r.RunFile(context.Background(), path))
	assert.Equal(t, [][]byte{{0xFF, 0x10, 0x00, 0xFE}}, s.got)
}
