package tierlimit

import (
	"testing"
	"time"
)

func TestWindowCounter_At(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// 零值窗口：首次观察即开窗
	var w windowCounter
	rolled := w.at(t0, time.Minute)
	if !rolled.start.Equal(t0) || rolled.count != 0 {
		t.Errorf("fresh window should start at now with zero count: %+v", rolled)
	}

	// 窗口内：状态不变
	w = windowCounter{start: t0, count: 7}
	rolled = w.at(t0.Add(59*time.Second), time.Minute)
	if rolled.count != 7 || !rolled.start.Equal(t0) {
		t.Errorf("in-window observation should not roll: %+v", rolled)
	}

	// 恰好到期：整体重置
	rolled = w.at(t0.Add(time.Minute), time.Minute)
	if rolled.count != 0 {
		t.Errorf("expired window should reset count, got %d", rolled.count)
	}
	if !rolled.start.Equal(t0.Add(time.Minute)) {
		t.Errorf("expired window should restart at now: %+v", rolled)
	}

	// at 是纯函数，原值不受影响
	if w.count != 7 {
		t.Errorf("at must not mutate the receiver: %+v", w)
	}
}

func TestWindowCounter_ResetAt(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w := windowCounter{start: t0, count: 1}
	if got := w.resetAt(time.Hour); !got.Equal(t0.Add(time.Hour)) {
		t.Errorf("resetAt: expected %v, got %v", t0.Add(time.Hour), got)
	}
}
