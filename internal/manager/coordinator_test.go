package manager

import (
	"errors"
	"slices"
	"testing"
	"time"

	"imaged/internal/engine"
)

func TestRunGivesUpAfterEveryCandidateIsDemoted(t *testing.T) {
	be := newFakeBackend()
	m := newTestManager(t, ManagerConfig{Backend: be})
	pub := NewMemoryPublisher()
	m.SetEventPublisher(pub)
	seed(t, m, "a", engine.CUDA)
	seed(t, m, "b", engine.CUDA)
	seed(t, m, "c", engine.CUDA)
	self, _ := seed(t, m, "self", engine.CUDA)

	attempts := 0
	err := m.Run(func() error {
		attempts++
		return errOOM
	}, self)
	if !IsResourceExhausted(err) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
	if !errors.Is(err, errOOM) {
		t.Fatalf("resource exhausted error should wrap the last allocation failure")
	}
	if attempts != 4 {
		t.Fatalf("attempts = %d, want 4", attempts)
	}
	if got, want := pub.Trace(EventDemote), []string{"demote:a", "demote:b", "demote:c"}; !slices.Equal(got, want) {
		t.Fatalf("demotions = %v, want %v", got, want)
	}
	if got := m.cache.ListByTier(TierAccelerator); !slices.Equal(got, []ModelKey{self}) {
		t.Fatalf("excluded entry must stay resident, accelerator = %v", got)
	}
	// One reclaim per demotion and one before giving up.
	if _, reclaims := be.counts(); reclaims != 4 {
		t.Fatalf("reclaims = %d, want 4", reclaims)
	}
	if st := m.Status(); st.OOMRetriesTotal != 3 || st.DemotionsTotal != 3 {
		t.Fatalf("counters: retries=%d demotions=%d", st.OOMRetriesTotal, st.DemotionsTotal)
	}
}

func TestRunSucceedsOnceEnoughIsFreed(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	_, pa := seed(t, m, "a", engine.CUDA)
	_, pb := seed(t, m, "b", engine.CUDA)

	attempts := 0
	err := m.Run(func() error {
		attempts++
		if attempts < 2 {
			return errOOM
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if pa.Device() != engine.CPU || pb.Device() != engine.CUDA {
		t.Fatalf("only the least recently used pipeline should be demoted")
	}
}

func TestRunWithNoCandidatesFailsAfterOneAttempt(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	attempts := 0
	err := m.Run(func() error {
		attempts++
		return engine.ErrOutOfMemory
	})
	if !IsResourceExhausted(err) || attempts != 1 {
		t.Fatalf("attempts=%d err=%v", attempts, err)
	}
}

func TestRunReturnsOtherErrorsUnchanged(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	_, pa := seed(t, m, "a", engine.CUDA)
	boom := errors.New("boom")
	attempts := 0
	err := m.Run(func() error {
		attempts++
		return boom
	})
	if err != boom || attempts != 1 {
		t.Fatalf("attempts=%d err=%v", attempts, err)
	}
	if pa.Device() != engine.CUDA {
		t.Fatalf("a non-allocation failure must not demote anything")
	}
}

func TestRunNeverDemotesLeasedEntries(t *testing.T) {
	m := newTestManager(t, ManagerConfig{LeaseWait: 30 * time.Millisecond})
	a, pa := seed(t, m, "a", engine.CUDA)
	_, pb := seed(t, m, "b", engine.CUDA)
	l, err := m.Checkout(testCtx(t), a, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Return()

	attempts := 0
	err = m.Run(func() error {
		attempts++
		return errOOM
	})
	if !IsResourceExhausted(err) || attempts != 2 {
		t.Fatalf("attempts=%d err=%v", attempts, err)
	}
	if pa.Device() != engine.CUDA {
		t.Fatalf("leased pipeline was demoted")
	}
	if pb.Device() != engine.CPU {
		t.Fatalf("unleased pipeline should have been demoted")
	}
}

func TestRunSkipsCandidatesDemotedByAnEarlierAttempt(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	a, _ := seed(t, m, "a", engine.CUDA)
	seed(t, m, "b", engine.CUDA)

	attempts := 0
	err := m.Run(func() error {
		attempts++
		if attempts == 1 {
			// Work that itself demotes a snapshot candidate.
			if err := m.demoteDeviceLocked(a); err != nil {
				return err
			}
		}
		return errOOM
	})
	if !IsResourceExhausted(err) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestEnsureResidentRecoversFromOOMOnMove(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	_, old := seed(t, m, "old", engine.CUDA)
	k, p := seed(t, m, "new", engine.CPU)
	p.moveErr = errOOM

	l, err := m.Checkout(testCtx(t), k, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Return()
	if err := m.EnsureResident(l); !IsResourceExhausted(err) {
		t.Fatalf("expected resource exhausted while the move keeps failing, got %v", err)
	}
	if old.Device() != engine.CPU {
		t.Fatalf("the resident pipeline should have been demoted to make room")
	}

	p.mu.Lock()
	p.moveErr = nil
	p.mu.Unlock()
	if err := m.EnsureResident(l); err != nil {
		t.Fatalf("ensure resident: %v", err)
	}
	if got := m.cache.ListByTier(TierAccelerator); !slices.Equal(got, []ModelKey{k}) {
		t.Fatalf("accelerator = %v", got)
	}
}

func TestRunWaitsForAnotherCallToReturnItsLease(t *testing.T) {
	m := newTestManager(t, ManagerConfig{LeaseWait: 2 * time.Second})
	pub := NewMemoryPublisher()
	m.SetEventPublisher(pub)
	a, pa := seed(t, m, "a", engine.CUDA)
	la, err := m.Checkout(testCtx(t), a, nil)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- m.Run(func() error {
			if pa.Device() == engine.CUDA {
				return errOOM
			}
			return nil
		}, keysOf("b")...)
	}()
	time.Sleep(30 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Run finished while the only resident pipeline was leased: %v", err)
	default:
	}

	la.Return()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not resume after the lease was returned")
	}
	if pa.Device() != engine.CPU {
		t.Fatalf("returned pipeline should have been demoted")
	}
	if got := pub.Trace(EventDemote); !slices.Equal(got, []string{"demote:a"}) {
		t.Fatalf("trace = %v", got)
	}
}

func TestEnsureResidentWaitsForResidentSlot(t *testing.T) {
	be := newFakeBackend()
	m := newTestManager(t, ManagerConfig{Backend: be, MaxResident: 1, LeaseWait: 2 * time.Second})
	a, pa := seed(t, m, "a", engine.CUDA)
	la, err := m.Checkout(testCtx(t), a, nil)
	if err != nil {
		t.Fatal(err)
	}
	b := keysOf("b")[0]
	lb, err := m.Checkout(testCtx(t), b, m.backendLoader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer lb.Return()

	done := make(chan error, 1)
	go func() { done <- m.EnsureResident(lb) }()
	time.Sleep(30 * time.Millisecond)
	la.Return()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ensure resident: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("EnsureResident did not resume after the lease was returned")
	}
	if pa.Device() != engine.CPU || lb.Pipeline().Device() != engine.CUDA {
		t.Fatalf("a=%s b=%s", pa.Device(), lb.Pipeline().Device())
	}
	if got := m.Cache().ListByTier(TierAccelerator); !slices.Equal(got, []ModelKey{b}) {
		t.Fatalf("accelerator tier = %v", got)
	}
}

func TestRunGivesUpWhenLeaseIsNeverReturned(t *testing.T) {
	m := newTestManager(t, ManagerConfig{LeaseWait: 40 * time.Millisecond})
	a, _ := seed(t, m, "a", engine.CUDA)
	la, err := m.Checkout(testCtx(t), a, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer la.Return()

	start := time.Now()
	err = m.Run(func() error { return errOOM }, keysOf("b")...)
	if !IsResourceExhausted(err) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
	if waited := time.Since(start); waited < 40*time.Millisecond {
		t.Fatalf("gave up after %v without waiting for the lease", waited)
	}
}
