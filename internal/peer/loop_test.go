package peer

import (
	"sync"
	"testing"
	"time"
)

func TestLoopRunsPostsInOrder(t *testing.T) {
	l := NewLoop(time.Hour, nil, nil)
	go l.Run()
	defer l.Stop()

	var got []int
	var wg sync.WaitGroup
	wg.Add(1)
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Post(wg.Done)
	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("posts ran out of order: %v", got)
		}
	}
}

func TestPostFromLoopDoesNotDeadlock(t *testing.T) {
	l := NewLoop(time.Hour, nil, nil)
	go l.Run()
	defer l.Stop()

	inner := false
	l.Do(func() {
		l.Post(func() { inner = true })
	})
	l.Do(func() {})
	if !inner {
		t.Fatalf("nested post never ran")
	}
}

func TestDoAfterStopReturns(t *testing.T) {
	l := NewLoop(time.Hour, nil, nil)
	go l.Run()
	l.Stop()
	<-l.Done()
	if l.Do(func() {}) {
		t.Fatalf("Do reported running after stop")
	}
}

func TestTickCallsOnTick(t *testing.T) {
	ticks := make(chan time.Time, 1)
	l := NewLoop(time.Millisecond, func(now time.Time) {
		select {
		case ticks <- now:
		default:
		}
	}, nil)
	go l.Run()
	defer l.Stop()
	select {
	case <-ticks:
	case <-time.After(5 * time.Second):
		t.Fatalf("no tick")
	}
}
