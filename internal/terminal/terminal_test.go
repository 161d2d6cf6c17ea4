package terminal

import "testing"

func TestInfo_Capabilities(t *testing.T) {
	tests := []struct {
		name      string
		info      Info
		wantColor bool
		wantSpin  bool
		wantLive  bool
	}{
		{
			name:      "full tty",
			info:      Info{IsTTY: true, StderrIsTTY: true, StdinIsTTY: true},
			wantColor: true,
			wantSpin:  true,
			wantLive:  true,
		},
		{
			name:     "stdout redirected",
			info:     Info{IsTTY: false, StderrIsTTY: true, StdinIsTTY: true},
			wantSpin: true,
			wantLive: true,
		},
		{
			name:     "no color env",
			info:     Info{IsTTY: true, StderrIsTTY: true, StdinIsTTY: true, NoColor: true},
			wantLive: true,
		},
		{
			name:     "no-color flag",
			info:     Info{IsTTY: true, StderrIsTTY: true, ForceFlag: true},
			wantLive: false,
		},
		{
			name: "piped everywhere",
			info: Info{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.ColorEnabled(); got != tt.wantColor {
				t.Errorf("ColorEnabled() = %v, want %v", got, tt.wantColor)
			}

			if got := tt.info.SpinnersEnabled(); got != tt.wantSpin {
				t.Errorf("SpinnersEnabled() = %v, want %v", got, tt.wantSpin)
			}

			if got := tt.info.LiveViewEnabled(); got != tt.wantLive {
				t.Errorf("LiveViewEnabled() = %v, want %v", got, tt.wantLive)
			}
		})
	}
}

func TestDetect_NoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	if info := Detect(); !info.NoColor {
		t.Error("Detect() ignored NO_COLOR")
	}
}

func TestDetect_DumbTerm(t *testing.T) {
	t.Setenv("TERM", "dumb")

	info := Detect()
	if !info.NoColor {
		t.Error("Detect() should treat TERM=dumb as no-color")
	}

	if info.Width <= 0 || info.Height <= 0 {
		t.Errorf("Detect() size = %dx%d, want positive", info.Width, info.Height)
	}
}
