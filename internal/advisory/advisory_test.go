package advisory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jwtly10/metalsbot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdvisor struct {
	text    string
	err     error
	release chan struct{}
	got     []types.Candle
}

func (s *stubAdvisor) Commentary(_ context.Context, _ types.Signal, candles []types.Candle) (string, error) {
	if s.release != nil {
		<-s.release
	}
	s.got = candles
	return s.text, s.err
}

func (s *stubAdvisor) ValidateMacro(context.Context, []string) (types.MacroCheck, error) {
	return types.MacroCheck{IsSafe: false, Reason: "RISK"}, nil
}

func candles(n int) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		out[i] = types.Candle{Close: float64(i + 1)}
	}
	return out
}

func TestOffline(t *testing.T) {
	adv := NewOffline()

	text, err := adv.Commentary(context.Background(), types.Signal{}, nil)
	require.NoError(t, err)
	assert.Equal(t, OfflineCommentary, text)

	check, err := adv.ValidateMacro(context.Background(), []string{"GLD"})
	require.NoError(t, err)
	assert.True(t, check.IsSafe)
	assert.Equal(t, OfflineMacro, check.Reason)
	assert.NotNil(t, check.Sources)
	assert.False(t, check.CheckedAt.IsZero())
}

func TestAnnotations_AnnotateDoesNotBlock(t *testing.T) {
	ann := NewAnnotations(0)
	adv := &stubAdvisor{text: "Breakout on volume", release: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		ann.Annotate(context.Background(), adv, types.Signal{ID: "s1"}, candles(10))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Annotate blocked on the advisor")
	}

	_, ok := ann.Get("s1")
	assert.False(t, ok, "not written until the advisor returns")

	close(adv.release)
	ann.Wait()

	text, ok := ann.Get("s1")
	require.True(t, ok)
	assert.Equal(t, "Breakout on volume", text)
	assert.Len(t, adv.got, 5, "only the last five candles are sent")
	assert.Equal(t, 10.0, adv.got[4].Close)
}

func TestAnnotations_FailureLeavesNothing(t *testing.T) {
	ann := NewAnnotations(0)
	ann.Annotate(context.Background(), &stubAdvisor{err: errors.New("rate limited")}, types.Signal{ID: "s1"}, nil)
	ann.Wait()

	_, ok := ann.Get("s1")
	assert.False(t, ok)
}

func TestAnnotations_SurvivesCancelledCaller(t *testing.T) {
	ann := NewAnnotations(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ann.Annotate(ctx, &stubAdvisor{text: "ok"}, types.Signal{ID: "s1"}, nil)
	ann.Wait()

	_, ok := ann.Get("s1")
	assert.True(t, ok)
}

func TestAnnotations_Bounded(t *testing.T) {
	ann := NewAnnotations(3)
	for i := range 5 {
		ann.Set(fmt.Sprintf("s%d", i), "text")
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, 3, ann.Len())
	_, ok := ann.Get("s0")
	assert.False(t, ok)
	_, ok = ann.Get("s4")
	assert.True(t, ok)
}
