package rates

import "testing"

func TestBus_PublishAndUnsubscribe(t *testing.T) {
	b := NewBus()

	var got []EventKind
	unsub := b.Subscribe(func(ev Event) { got = append(got, ev.Kind) })
	other := 0
	b.Subscribe(func(Event) { other++ })

	b.Publish(EventRateCacheUpdated)
	unsub()
	unsub()
	b.Publish(EventProdCacheLoadFailed)

	if len(got) != 1 || got[0] != EventRateCacheUpdated {
		t.Errorf("unsubscribed handler saw %v", got)
	}
	if other != 2 {
		t.Errorf("remaining handler saw %d events, want 2", other)
	}
}

func TestManualClock_Tick(t *testing.T) {
	clk := NewManualClock()
	fast := clk.NewTicker(DefaultFastInterval)
	slow := clk.NewTicker(DefaultSlowInterval)

	if n := clk.Tick(DefaultFastInterval); n != 1 {
		t.Fatalf("expected 1 ticker fired, got %d", n)
	}
	// pending tick is not duplicated
	if n := clk.Tick(DefaultFastInterval); n != 0 {
		t.Errorf("expected pending tick to be dropped, got %d", n)
	}
	<-fast.C()

	select {
	case <-slow.C():
		t.Error("slow ticker fired on a fast tick")
	default:
	}

	slow.Stop()
	if n := clk.Tick(DefaultSlowInterval); n != 0 {
		t.Errorf("stopped ticker fired")
	}
}
