package watch

import (
	"testing"
	"time"
)

func TestInitialValueIsSeen(t *testing.T) {
	_, rx := New(7)
	if rx.HasChanged() {
		t.Error("initial value should be seen")
	}
	if v := rx.Borrow(); v != 7 {
		t.Errorf("Borrow() = %d, want 7", v)
	}
	select {
	case <-rx.Changed():
		t.Error("Changed fired without a send")
	default:
	}
}

func TestLatestValueWins(t *testing.T) {
	tx, rx := New(0)
	tx.Send(1)
	tx.Send(2)
	tx.Send(3)
	select {
	case <-rx.Changed():
	default:
		t.Fatal("Changed should be ready after a send")
	}
	if v := rx.BorrowAndUpdate(); v != 3 {
		t.Errorf("BorrowAndUpdate() = %d, want 3", v)
	}
	if rx.HasChanged() {
		t.Error("value should be marked seen")
	}
}

func TestChangedWakesBlockedReceiver(t *testing.T) {
	tx, rx := New("run")
	ch := rx.Changed()
	go func() {
		time.Sleep(5 * time.Millisecond)
		tx.Send("cancel")
	}()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("receiver was not woken")
	}
	if v := rx.BorrowAndUpdate(); v != "cancel" {
		t.Errorf("got %q", v)
	}
}

func TestClosedSenderNeverFires(t *testing.T) {
	tx, rx := New(0)
	tx.Close()
	if rx.Changed() != nil {
		t.Error("Changed on a closed, fully seen sender should be nil")
	}
	tx.Send(5)
	if v := rx.Borrow(); v != 0 {
		t.Errorf("send after close changed the value to %d", v)
	}
}

func TestClosePreservesUnseenValue(t *testing.T) {
	tx, rx := New(0)
	tx.Send(9)
	tx.Close()
	select {
	case <-rx.Changed():
	default:
		t.Fatal("an unseen value should still be reported")
	}
	if v := rx.BorrowAndUpdate(); v != 9 {
		t.Errorf("got %d, want 9", v)
	}
}

func TestSubscribe(t *testing.T) {
	tx, _ := New(0)
	tx.Send(1)
	rx := tx.Subscribe()
	if rx.HasChanged() {
		t.Error("a new subscriber starts with the current value seen")
	}
	tx.Send(2)
	if !rx.HasChanged() {
		t.Error("subscriber missed a send")
	}
}
