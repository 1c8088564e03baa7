package score

import "testing"

func TestStructureFullTransmissionComplete(t *testing.T) {
	norm := Normalize("ATC, Bowser One, request permission to taxi to runway 27, over")
	got, violations := Structure(norm, ModeFullTransmission)
	if got != 100 {
		t.Errorf("Structure = %d, want 100 (violations: %v)", got, violations)
	}
	if len(violations) != 0 {
		t.Errorf("violations = %v, want none", violations)
	}
}

func TestStructureMissingElements(t *testing.T) {
	cases := []struct {
		name       string
		transcript string
		wantCode   string
		wantScore  int
	}{
		{
			name:       "missing_receiver",
			transcript: "Bowser One, request taxi to runway 27, over",
			wantCode:   "missing_receiver",
			wantScore:  75,
		},
		{
			name:       "missing_closing",
			transcript: "ATC, Bowser One, request taxi to runway 27",
			wantCode:   "missing_closing",
			wantScore:  80,
		},
		{
			name:       "missing_sender",
			transcript: "ATC, request permission to taxi please, over",
			wantCode:   "missing_sender",
			wantScore:  75,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, violations := Structure(Normalize(c.transcript), ModeFullTransmission)
			if got != c.wantScore {
				t.Errorf("Structure = %d, want %d (violations: %v)", got, c.wantScore, violations)
			}
			found := false
			for _, v := range violations {
				if v.Code == c.wantCode {
					found = true
				}
			}
			if !found {
				t.Errorf("violations = %v, want %s", violations, c.wantCode)
			}
		})
	}
}

func TestStructureMisordered(t *testing.T) {
	// Sender callsign before receiver station.
	got, violations := Structure(Normalize("Bowser One, ATC, request taxi to runway 27, over"), ModeFullTransmission)
	found := false
	for _, v := range violations {
		if v.Code == "misordered_receiver_sender" {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %v, want misordered_receiver_sender", violations)
	}
	if got != 85 {
		t.Errorf("Structure = %d, want 85", got)
	}
}

func TestStructureClampsAtZero(t *testing.T) {
	got, _ := Structure(Normalize("hello"), ModeFullTransmission)
	if got < 0 {
		t.Errorf("Structure = %d, want >= 0", got)
	}
}

func TestStructureShortAcknowledgment(t *testing.T) {
	if got, _ := Structure(Normalize("Roger"), ModeShortAcknowledgment); got != 100 {
		t.Errorf("Structure(roger) = %d, want 100", got)
	}
	if got, _ := Structure(Normalize("Wilco, Bowser One"), ModeShortAcknowledgment); got != 100 {
		t.Errorf("Structure(wilco) = %d, want 100", got)
	}
	got, violations := Structure(Normalize("taxiing now"), ModeShortAcknowledgment)
	if got != 50 {
		t.Errorf("Structure = %d, want 50", got)
	}
	if len(violations) != 1 || violations[0].Code != "missing_acknowledgment" {
		t.Errorf("violations = %v, want missing_acknowledgment", violations)
	}
}

func TestStructureClarificationRequest(t *testing.T) {
	if got, _ := Structure(Normalize("ATC, say again, over"), ModeClarificationRequest); got != 100 {
		t.Errorf("Structure(say again) = %d, want 100", got)
	}
	got, violations := Structure(Normalize("what was that"), ModeClarificationRequest)
	if got != 25 {
		t.Errorf("Structure = %d, want 25 (violations: %v)", got, violations)
	}
	if len(violations) != 2 {
		t.Errorf("violations = %v, want missing receiver and clarification", violations)
	}
}

func TestValidStructureMode(t *testing.T) {
	for _, m := range []StructureMode{ModeFullTransmission, ModeShortAcknowledgment, ModeClarificationRequest} {
		if !ValidStructureMode(m) {
			t.Errorf("ValidStructureMode(%s) = false, want true", m)
		}
	}
	if ValidStructureMode("freeform") {
		t.Error("ValidStructureMode(freeform) = true, want false")
	}
}
