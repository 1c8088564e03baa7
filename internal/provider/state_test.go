package provider

import (
	"testing"
	"time"
)

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine(ElevenLabs, NewBus())

	path := []State{StateConnecting, StateSessionReady, StateListening, StateProcessing, StateCompleted}
	for _, s := range path {
		if err := m.To(s); err != nil {
			t.Fatalf("To(%s): %v", s, err)
		}
		if m.Current() != s {
			t.Fatalf("Current = %s, want %s", m.Current(), s)
		}
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	m := NewMachine(ElevenLabs, NewBus())

	if err := m.To(StateListening); err == nil {
		t.Error("idle -> listening accepted, want rejection")
	}
	if m.Current() != StateIdle {
		t.Errorf("state changed on rejected transition: %s", m.Current())
	}

	if err := m.To(StateConnecting); err != nil {
		t.Fatalf("To(connecting): %v", err)
	}
	if err := m.To(StateCompleted); err == nil {
		t.Error("connecting -> completed accepted, want rejection")
	}
}

func TestMachineErrorRecoversOnlyViaReset(t *testing.T) {
	m := NewMachine(Deepgram, NewBus())
	for _, s := range []State{StateConnecting, StateSessionReady, StateListening, StateError} {
		if err := m.To(s); err != nil {
			t.Fatalf("To(%s): %v", s, err)
		}
	}
	// Reset path: error -> listening is the only way back.
	if err := m.To(StateProcessing); err == nil {
		t.Error("error -> processing accepted, want rejection")
	}
	if err := m.To(StateListening); err != nil {
		t.Errorf("error -> listening (reset): %v", err)
	}
}

func TestMachineEmitsStateChangeEvents(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	m := NewMachine(ElevenLabs, bus)
	if err := m.To(StateConnecting); err != nil {
		t.Fatalf("To: %v", err)
	}

	select {
	case e := <-ch:
		if e.Kind != EventConnectionStateChange {
			t.Errorf("Kind = %s, want %s", e.Kind, EventConnectionStateChange)
		}
		if e.State != StateConnecting || e.Previous != StateIdle {
			t.Errorf("event = %+v, want idle -> connecting", e)
		}
		if e.Provider != ElevenLabs {
			t.Errorf("Provider = %s, want elevenlabs", e.Provider)
		}
		if e.At.IsZero() {
			t.Error("At not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("no state change event")
	}
}

func TestMachineToIf(t *testing.T) {
	m := NewMachine(ElevenLabs, NewBus())
	if m.ToIf(StateConnecting, StateListening) {
		t.Error("ToIf transitioned from wrong state")
	}
	if !m.ToIf(StateConnecting, StateIdle, StateDisconnected) {
		t.Error("ToIf refused valid transition")
	}
}

func TestCanSendAudio(t *testing.T) {
	for s, want := range map[State]bool{
		StateIdle:         false,
		StateConnecting:   false,
		StateSessionReady: true,
		StateListening:    true,
		StateProcessing:   false,
		StateCompleted:    false,
		StateError:        false,
		StateDisconnected: false,
	} {
		if got := s.CanSendAudio(); got != want {
			t.Errorf("%s.CanSendAudio() = %v, want %v", s, got, want)
		}
	}
}
