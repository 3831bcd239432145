package capability

import (
	"errors"
	"testing"

	"github.com/rudeworld/omnicon-web/internal/logging"
)

func TestDetect(t *testing.T) {
	ok := func() error { return nil }
	fail := func() error { return errors.New("no pty devices") }
	log := logging.NewNop()

	tests := []struct {
		name       string
		configured string
		probe      func() error
		want       Mode
	}{
		{"auto with working pty", "auto", ok, ModeInteractive},
		{"auto with failing probe", "auto", fail, ModeFallback},
		{"forced interactive skips probe", "interactive", fail, ModeInteractive},
		{"forced fallback skips probe", "fallback", ok, ModeFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.configured, tt.probe, log); got != tt.want {
				t.Errorf("Detect(%q) = %s, want %s", tt.configured, got, tt.want)
			}
		})
	}
}

func TestDetect_ProbeCalledOnceInAuto(t *testing.T) {
	calls := 0
	probe := func() error {
		calls++
		return nil
	}
	Detect("auto", probe, logging.NewNop())
	if calls != 1 {
		t.Errorf("expected one probe call, got %d", calls)
	}

	calls = 0
	Detect("fallback", probe, logging.NewNop())
	if calls != 0 {
		t.Errorf("forced mode must not probe, got %d calls", calls)
	}
}
