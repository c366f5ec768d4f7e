package hardware

import "testing"

func TestWaitHandleValidate(t *testing.T) {
	t.Parallel()

	valid := WaitHandle{FD: 5, Events: EventReadable}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid wait handle, got %v", err)
	}

	tests := []struct {
		name   string
		handle WaitHandle
	}{
		{name: "negative fd", handle: WaitHandle{FD: -1, Events: EventReadable}},
		{name: "no events", handle: WaitHandle{FD: 3}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.handle.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestControlEventValidate(t *testing.T) {
	t.Parallel()

	valid := ControlEvent{Deck: 1, Control: ControlFader, Value: 0.5}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid control event, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ControlEvent)
	}{
		{name: "negative deck", mutate: func(e *ControlEvent) { e.Deck = -1 }},
		{name: "unknown control", mutate: func(e *ControlEvent) { e.Control = "spin" }},
		{name: "value above range", mutate: func(e *ControlEvent) { e.Value = 1.5 }},
		{name: "value below range", mutate: func(e *ControlEvent) { e.Value = -0.1 }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			candidate := valid
			tc.mutate(&candidate)
			if err := candidate.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}
