package backoff_test

import (
	"testing"
	"time"

	"github.com/famedly/requeuest/backoff"
)

func TestConstant(t *testing.T) {
	s := backoff.NewConstant(5 * time.Second)

	for _, attempt := range []int{1, 2, 10, 100} {
		if d := s.Delay(attempt); d != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, d)
		}
	}
}

func TestLinear(t *testing.T) {
	s := backoff.NewLinear(time.Second, 5*time.Second)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{3, 3 * time.Second},
		{5, 5 * time.Second},
		{10, 5 * time.Second}, // capped
	}
	for _, tc := range cases {
		if d := s.Delay(tc.attempt); d != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, d, tc.want)
		}
	}
}

func TestLinear_NoCap(t *testing.T) {
	s := backoff.NewLinear(time.Second, 0)
	if d := s.Delay(100); d != 100*time.Second {
		t.Errorf("Delay(100) = %v, want 100s", d)
	}
}

func TestExponential(t *testing.T) {
	s := backoff.NewExponential(time.Second, time.Minute)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{5, 16 * time.Second},
		{10, time.Minute}, // capped
	}
	for _, tc := range cases {
		if d := s.Delay(tc.attempt); d != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, d, tc.want)
		}
	}
}

func TestExponentialWithJitter_Bounds(t *testing.T) {
	s := backoff.NewExponentialWithJitter(time.Second, time.Minute)

	for attempt := 1; attempt <= 10; attempt++ {
		ceiling := time.Duration(1<<uint(attempt-1)) * time.Second
		if ceiling > time.Minute {
			ceiling = time.Minute
		}
		for range 50 {
			d := s.Delay(attempt)
			if d < 0 || d > ceiling {
				t.Fatalf("Delay(%d) = %v outside [0, %v]", attempt, d, ceiling)
			}
		}
	}
}

func TestPolicy_Unbounded(t *testing.T) {
	p := backoff.Policy{Strategy: backoff.NewConstant(time.Second)}

	for _, attempt := range []int{1, 100, 1_000_000} {
		delay, ok := p.Next(attempt)
		if !ok {
			t.Fatalf("Next(%d) gave up; unbounded policy must always retry", attempt)
		}
		if delay != time.Second {
			t.Errorf("Next(%d) delay = %v, want 1s", attempt, delay)
		}
	}
}

func TestPolicy_MaxAttempts(t *testing.T) {
	p := backoff.Policy{Strategy: backoff.NewConstant(time.Second), MaxAttempts: 3}

	if _, ok := p.Next(2); !ok {
		t.Error("Next(2) should allow a retry")
	}
	if _, ok := p.Next(3); ok {
		t.Error("Next(3) should exhaust a 3-attempt budget")
	}
	if _, ok := p.Next(4); ok {
		t.Error("Next(4) should stay exhausted")
	}
}

func TestPolicy_NilStrategyUsesDefault(t *testing.T) {
	var p backoff.Policy

	delay, ok := p.Next(1)
	if !ok {
		t.Fatal("zero policy must retry")
	}
	if delay < 0 || delay > time.Minute {
		t.Errorf("delay = %v outside default strategy bounds", delay)
	}
}
