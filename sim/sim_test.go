package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hybridsix/chronocore/engine"
	"github.com/hybridsix/chronocore/model"
)

type fakeTarget struct {
	mu     sync.Mutex
	passes []model.Pass
	active bool
	label  string
}

func (f *fakeTarget) IngestPass(p model.Pass) (engine.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passes = append(f.passes, p)
	return engine.IngestResult{LapAdded: p.Source == model.SourceTrack}, nil
}

func (f *fakeTarget) SetSimActive(active bool, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = active
	f.label = label
	return nil
}

func (f *fakeTarget) snapshot() (passes []model.Pass, active bool, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Pass(nil), f.passes...), f.active, f.label
}

// runUntil drives the simulator until cond holds or the deadline hits.
func runUntil(t *testing.T, s *Simulator, f *fakeTarget, cond func([]model.Pass) bool) []model.Pass {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		passes, _, _ := f.snapshot()
		if cond(passes) {
			cancel()
			<-done
			return passes
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	passes, _, _ := f.snapshot()
	t.Fatalf("condition never met; saw %d passes", len(passes))
	return nil
}

func TestRunCoversEveryTag(t *testing.T) {
	f := &fakeTarget{}
	s := New(f, []string{"1111111", "2222222", "3333333"}, Options{
		BaseLapS: 0.02,
		Tick:     2 * time.Millisecond,
		Seed:     1,
		Log:      zerolog.Nop(),
	})

	passes := runUntil(t, s, f, func(ps []model.Pass) bool {
		seen := map[string]int{}
		for _, p := range ps {
			seen[p.Tag]++
		}
		return seen["1111111"] >= 2 && seen["2222222"] >= 2 && seen["3333333"] >= 2
	})

	for _, p := range passes {
		if p.Source != model.SourceTrack {
			t.Errorf("unexpected source %s without pit traffic enabled", p.Source)
		}
		if p.TsRecv.IsZero() {
			t.Error("pass missing receive timestamp")
		}
	}
}

func TestRunTogglesSimActive(t *testing.T) {
	f := &fakeTarget{}
	s := New(f, []string{"1111111"}, Options{
		BaseLapS: 0.02,
		Tick:     2 * time.Millisecond,
		Seed:     1,
		Log:      zerolog.Nop(),
	})
	if len(s.Label()) != 8 {
		t.Fatalf("label %q, want 8 chars", s.Label())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, active, label := f.snapshot()
		if active && label == s.Label() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sim never marked itself active")
		}
		time.Sleep(2 * time.Millisecond)
	}

	cancel()
	<-done
	_, active, label := f.snapshot()
	if active || label != "" {
		t.Errorf("after stop: active=%v label=%q, want cleared", active, label)
	}
}

func TestPitTrafficPairs(t *testing.T) {
	f := &fakeTarget{}
	s := New(f, []string{"1111111"}, Options{
		BaseLapS: 0.02,
		PitEvery: 1,
		Tick:     2 * time.Millisecond,
		Seed:     7,
		Log:      zerolog.Nop(),
	})

	passes := runUntil(t, s, f, func(ps []model.Pass) bool {
		outs := 0
		for _, p := range ps {
			if p.Source == model.SourcePitOut {
				outs++
			}
		}
		return outs >= 1
	})

	// Every pit exit must be preceded by an open pit entry.
	open := false
	for _, p := range passes {
		switch p.Source {
		case model.SourcePitIn:
			if open {
				t.Fatal("pit_in while already in pit")
			}
			open = true
		case model.SourcePitOut:
			if !open {
				t.Fatal("pit_out without pit_in")
			}
			open = false
		}
	}
}
