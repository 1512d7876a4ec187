package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
)

// Loop drives a simulation in real time.
type Loop struct {
	Sim      *Simulation
	Interval time.Duration // Base tick interval (default 1 second)

	// OnTick runs after every tick with the entries it committed.
	OnTick func(tick uint64, entries []narrative.Entry)

	speed   atomic.Uint64 // float64 bits; 1.0 = real-time, 0 = paused
	running atomic.Bool
	stop    chan struct{}
	once    sync.Once
	log     *slog.Logger
}

// NewLoop creates a real-time driver with default settings.
func NewLoop(sim *Simulation, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{
		Sim:      sim,
		Interval: time.Second,
		stop:     make(chan struct{}),
		log:      log,
	}
	l.SetSpeed(1.0)
	return l
}

// Speed returns the current speed multiplier.
func (l *Loop) Speed() float64 {
	return math.Float64frombits(l.speed.Load())
}

// SetSpeed changes the speed multiplier. Zero or less pauses the loop.
func (l *Loop) SetSpeed(v float64) {
	l.speed.Store(math.Float64bits(v))
}

// Running reports whether Run is active.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Run advances the simulation until ctx is done or Stop is called. A limit
// above zero stops after that many ticks.
func (l *Loop) Run(ctx context.Context, limit uint64) {
	l.running.Store(true)
	defer l.running.Store(false)
	l.log.Info("simulation loop started", "tick", l.Sim.CurrentTick(), "speed", l.Speed())

	var done uint64
	for limit == 0 || done < limit {
		if l.stopped(ctx) {
			break
		}
		speed := l.Speed()
		if speed <= 0 {
			// Paused; check again shortly.
			if !l.sleep(ctx, 100*time.Millisecond) {
				break
			}
			continue
		}

		start := time.Now()
		tick := l.Sim.CurrentTick()
		entries := l.Sim.Advance(ctx)
		done++
		if l.OnTick != nil {
			l.OnTick(tick, entries)
		}

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(l.Interval) / speed)
		if elapsed < target && !l.sleep(ctx, target-elapsed) {
			break
		}
	}

	l.log.Info("simulation loop stopped", "tick", l.Sim.CurrentTick(), "ticks_run", done)
}

// Stop halts the loop after the current tick.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Loop) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-l.stop:
		return true
	default:
		return false
	}
}

// sleep waits for d and reports whether the loop should keep going.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-l.stop:
		return false
	}
}
