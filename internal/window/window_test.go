package window

import (
	"errors"
	"testing"
)

const minuteMs = int64(60_000)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		wantStart int64
		wantEnd   int64
		wantCount int
		wantErr   bool
	}{
		{
			name: "aligned reference",
			req: Request{
				ReferenceMillis: 1_757_673_600_000, // 2025-09-12T16:00:00Z
				OffsetMillis:    120 * minuteMs,
				LengthMillis:    720 * minuteMs,
				StepMillis:      minuteMs,
			},
			wantStart: 1_757_673_600_000 + 120*minuteMs,
			wantEnd:   1_757_673_600_000 + 840*minuteMs,
			wantCount: 720,
		},
		{
			name: "unaligned reference ceils to next slot",
			req: Request{
				ReferenceMillis: 1_757_673_600_123,
				OffsetMillis:    0,
				LengthMillis:    3 * minuteMs,
				StepMillis:      minuteMs,
			},
			wantStart: 1_757_673_660_000,
			wantEnd:   1_757_673_660_000 + 3*minuteMs,
			wantCount: 3,
		},
		{
			name: "fixed end agrees with length",
			req: Request{
				ReferenceMillis: 1_761_760_800_000,
				LengthMillis:    720 * minuteMs,
				StepMillis:      minuteMs,
				FixedEndMillis:  1_761_760_800_000 + 720*minuteMs,
			},
			wantStart: 1_761_760_800_000,
			wantEnd:   1_761_760_800_000 + 720*minuteMs,
			wantCount: 720,
		},
		{
			name: "fixed end only",
			req: Request{
				ReferenceMillis: 1_761_760_800_000,
				StepMillis:      minuteMs,
				FixedEndMillis:  1_761_760_800_000 + 60*minuteMs,
			},
			wantStart: 1_761_760_800_000,
			wantEnd:   1_761_760_800_000 + 60*minuteMs,
			wantCount: 60,
		},
		{
			name: "fixed end disagrees with length override",
			req: Request{
				ReferenceMillis: 1_761_760_800_000,
				LengthMillis:    720 * minuteMs,
				StepMillis:      minuteMs,
				FixedEndMillis:  1_761_760_800_000 + 719*minuteMs,
			},
			wantErr: true,
		},
		{
			name: "length not a multiple of step",
			req: Request{
				ReferenceMillis: 1_761_760_800_000,
				LengthMillis:    90_500,
				StepMillis:      minuteMs,
			},
			wantErr: true,
		},
		{
			name: "no length and no fixed end",
			req: Request{
				ReferenceMillis: 1_761_760_800_000,
				StepMillis:      minuteMs,
			},
			wantErr: true,
		},
		{
			name: "zero step",
			req: Request{
				ReferenceMillis: 1_761_760_800_000,
				LengthMillis:    minuteMs,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Resolve(tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Resolve() expected error, got nil")
				}
				if !errors.Is(err, ErrConfigMismatch) {
					t.Errorf("Resolve() error = %v, want ErrConfigMismatch", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() failed: %v", err)
			}
			if spec.Start != tt.wantStart {
				t.Errorf("Start = %d, want %d", spec.Start, tt.wantStart)
			}
			if spec.End != tt.wantEnd {
				t.Errorf("End = %d, want %d", spec.End, tt.wantEnd)
			}
			if spec.ExpectedSlotCount != tt.wantCount {
				t.Errorf("ExpectedSlotCount = %d, want %d", spec.ExpectedSlotCount, tt.wantCount)
			}
			// expectedSlotCount * step must reconstruct the window exactly
			if int64(spec.ExpectedSlotCount)*spec.StepMillis != spec.End-spec.Start {
				t.Error("slot count does not cover the window exactly")
			}
		})
	}
}

func TestEffectiveEnd(t *testing.T) {
	spec := Spec{
		Start:             1_000_000 * minuteMs,
		End:               1_000_010 * minuteMs,
		StepMillis:        minuteMs,
		ExpectedSlotCount: 10,
	}

	tests := []struct {
		name      string
		nowMillis int64
		want      int64
		wantCount int
		elapsed   bool
	}{
		{
			name:      "window fully elapsed",
			nowMillis: spec.End + 5*minuteMs,
			want:      spec.LastSlotStart(),
			wantCount: 10,
			elapsed:   true,
		},
		{
			name:      "now just past end still yields full window",
			nowMillis: spec.End + minuteMs,
			want:      spec.LastSlotStart(),
			wantCount: 10,
			elapsed:   true,
		},
		{
			name:      "mid-window excludes the open slot",
			nowMillis: spec.Start + 5*minuteMs + 30_000,
			want:      spec.Start + 4*minuteMs,
			wantCount: 5,
		},
		{
			name:      "exactly on a boundary excludes the just-opened slot",
			nowMillis: spec.Start + 5*minuteMs,
			want:      spec.Start + 4*minuteMs,
			wantCount: 5,
		},
		{
			name:      "before window opens",
			nowMillis: spec.Start - 10*minuteMs,
			want:      spec.Start - 11*minuteMs,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := spec.EffectiveEnd(tt.nowMillis); got != tt.want {
				t.Errorf("EffectiveEnd() = %d, want %d", got, tt.want)
			}
			if got := spec.ExpectedCountAt(tt.nowMillis); got != tt.wantCount {
				t.Errorf("ExpectedCountAt() = %d, want %d", got, tt.wantCount)
			}
			if got := spec.Elapsed(tt.nowMillis); got != tt.elapsed {
				t.Errorf("Elapsed() = %v, want %v", got, tt.elapsed)
			}
		})
	}
}

func TestSlotStarts(t *testing.T) {
	spec := Spec{Start: 0, End: 3 * minuteMs, StepMillis: minuteMs, ExpectedSlotCount: 3}

	starts := spec.SlotStarts()
	if len(starts) != 3 {
		t.Fatalf("len(SlotStarts()) = %d, want 3", len(starts))
	}
	for i, s := range starts {
		if s != int64(i)*minuteMs {
			t.Errorf("slot %d start = %d, want %d", i, s, int64(i)*minuteMs)
		}
	}
}

func TestStepAlignment(t *testing.T) {
	if got := CeilToStep(100, 60); got != 120 {
		t.Errorf("CeilToStep(100, 60) = %d, want 120", got)
	}
	if got := CeilToStep(120, 60); got != 120 {
		t.Errorf("CeilToStep(120, 60) = %d, want 120", got)
	}
	if got := FloorToStep(119, 60); got != 60 {
		t.Errorf("FloorToStep(119, 60) = %d, want 60", got)
	}
	if got := FloorToStep(120, 60); got != 120 {
		t.Errorf("FloorToStep(120, 60) = %d, want 120", got)
	}
}

func TestFormatISO(t *testing.T) {
	if got := FormatISO(1_761_760_800_000); got != "2025-10-29T18:00:00Z" {
		t.Errorf("FormatISO() = %q, want 2025-10-29T18:00:00Z", got)
	}
}
