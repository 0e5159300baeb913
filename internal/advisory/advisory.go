// Package advisory holds the optional AI commentary and macro check. Nothing
// here ever feeds back into the entry decision unless the bot is configured
// to gate on the macro check.
package advisory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jwtly10/metalsbot/internal/logging"
	"github.com/jwtly10/metalsbot/internal/types"
)

const (
	OfflineCommentary = "AI analysis offline (Key configuration pending)."
	OfflineMacro      = "Bypassed (API Key Pending)"

	// DefaultMaxAnnotations bounds the annotation map.
	DefaultMaxAnnotations = 500

	annotateTimeout = 30 * time.Second
)

var advLog = logging.New("advisory")

type Advisor interface {
	Commentary(ctx context.Context, sig types.Signal, candles []types.Candle) (string, error)
	ValidateMacro(ctx context.Context, symbols []string) (types.MacroCheck, error)
}

// Offline is the advisor used when no AI provider is configured.
type Offline struct {
	now func() time.Time
}

func NewOffline() *Offline {
	return &Offline{now: time.Now}
}

func (o *Offline) Commentary(context.Context, types.Signal, []types.Candle) (string, error) {
	return OfflineCommentary, nil
}

func (o *Offline) ValidateMacro(context.Context, []string) (types.MacroCheck, error) {
	return types.MacroCheck{
		IsSafe:    true,
		Reason:    OfflineMacro,
		Sources:   []types.Source{},
		CheckedAt: o.now().UTC(),
	}, nil
}

type annotation struct {
	text string
	at   time.Time
}

// Annotations is commentary keyed by signal id, written asynchronously.
type Annotations struct {
	mu      sync.RWMutex
	entries map[string]annotation
	limit   int
	wg      sync.WaitGroup
}

func NewAnnotations(limit int) *Annotations {
	if limit <= 0 {
		limit = DefaultMaxAnnotations
	}
	return &Annotations{entries: make(map[string]annotation), limit: limit}
}

// Annotate asks the advisor for commentary in the background. The caller
// never waits; a failed request simply leaves no annotation.
func (a *Annotations) Annotate(ctx context.Context, adv Advisor, sig types.Signal, candles []types.Candle) {
	tail := candles
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	tail = append([]types.Candle(nil), tail...)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), annotateTimeout)
		defer cancel()

		text, err := adv.Commentary(reqCtx, sig, tail)
		if err != nil {
			slog.Warn("Commentary request failed", "signal_id", sig.ID, "symbol", sig.Symbol, "error", err)
			return
		}
		a.Set(sig.ID, text)
		advLog.Debug("Annotation stored", "signal_id", sig.ID, "symbol", sig.Symbol)
	}()
}

func (a *Annotations) Set(id, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.entries[id]; !exists && len(a.entries) >= a.limit {
		a.evictOldestLocked()
	}
	a.entries[id] = annotation{text: text, at: time.Now()}
}

func (a *Annotations) Get(id string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[id]
	return e.text, ok
}

func (a *Annotations) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Wait blocks until every in-flight Annotate has finished.
func (a *Annotations) Wait() {
	a.wg.Wait()
}

func (a *Annotations) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range a.entries {
		if oldestID == "" || e.at.Before(oldest) {
			oldestID, oldest = id, e.at
		}
	}
	delete(a.entries, oldestID)
}
