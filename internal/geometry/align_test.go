package geometry

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlign_Floor(t *testing.T) {
	tests := []struct {
		name string
		plan ScalePlan
		want Aligned
	}{
		{"already aligned", ScalePlan{1280, 720, 1}, Aligned{1280, 720, true}},
		{"vga", ScalePlan{640, 480, 1}, Aligned{640, 480, true}},
		{"odd width", ScalePlan{405, 720, 1}, Aligned{400, 720, false}},
		{"both off grid", ScalePlan{854, 481, 1}, Aligned{848, 480, false}},
		{"below minimum", ScalePlan{2, 10, 1}, Aligned{16, 16, false}},
		{"exactly minimum", ScalePlan{16, 16, 1}, Aligned{16, 16, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultAlignment.Align(tt.plan))
		})
	}
}

func TestAlign_Ceil(t *testing.T) {
	a := Alignment{Block: 16, Mode: AlignCeil}
	got := a.Align(ScalePlan{TargetWidth: 405, TargetHeight: 720})
	assert.Equal(t, Aligned{Width: 416, Height: 720, IsAligned: false}, got)
}

func TestAlign_CustomBlock(t *testing.T) {
	a := Alignment{Block: 8, Mode: AlignFloor}
	got := a.Align(ScalePlan{TargetWidth: 1270, TargetHeight: 4})
	assert.Equal(t, 1264, got.Width)
	assert.Equal(t, 16, got.Height)

	a = Alignment{Block: 2}
	got = a.Align(ScalePlan{TargetWidth: 853, TargetHeight: 480})
	assert.Equal(t, Aligned{Width: 852, Height: 480, IsAligned: false}, got)
}

func TestAlign_Idempotent(t *testing.T) {
	for _, a := range []Alignment{DefaultAlignment, {Block: 16, Mode: AlignCeil}, {Block: 32}} {
		for w := 1; w < 2000; w += 37 {
			first := a.Align(ScalePlan{TargetWidth: w, TargetHeight: w/2 + 1})
			second := a.Align(ScalePlan{TargetWidth: first.Width, TargetHeight: first.Height})
			require.Equal(t, first.Width, second.Width)
			require.Equal(t, first.Height, second.Height)
			require.True(t, second.IsAligned)
		}
	}
}

func TestAlign_FloorNeverExceedsPlan(t *testing.T) {
	for v := MinDimension; v < 4000; v++ {
		got := DefaultAlignment.Align(ScalePlan{TargetWidth: v, TargetHeight: v})
		require.LessOrEqual(t, got.Width, v)
		require.GreaterOrEqual(t, got.Width, MinDimension)
		require.Zero(t, got.Width%DefaultBlock)
	}
}

func TestParseAlignMode(t *testing.T) {
	m, err := ParseAlignMode("ceil")
	require.NoError(t, err)
	assert.Equal(t, AlignCeil, m)

	_, err = ParseAlignMode("nearest")
	assert.Error(t, err)
}

func TestScenario_RotatedPhoneClip(t *testing.T) {
	display, err := Resolve(RawMeta{CodedWidth: 1080, CodedHeight: 1920, Rotation: 90})
	require.NoError(t, err)
	assert.Equal(t, DisplaySize{1920, 1080}, display)

	plan := PlanScale(display, 720, RoundHalfAway)
	assert.Equal(t, 1280, plan.TargetWidth)
	assert.Equal(t, 720, plan.TargetHeight)

	aligned := DefaultAlignment.Align(plan)
	assert.Equal(t, Aligned{Width: 1280, Height: 720, IsAligned: true}, aligned)
}

func TestPipeline_Table(t *testing.T) {
	type out struct {
		Display DisplaySize
		Plan    ScalePlan
		Aligned Aligned
	}
	tests := []struct {
		meta RawMeta
		want out
	}{
		{
			RawMeta{CodedWidth: 1920, CodedHeight: 1080},
			out{DisplaySize{1920, 1080}, ScalePlan{1280, 720, 720.0 / 1080}, Aligned{1280, 720, true}},
		},
		{
			RawMeta{CodedWidth: 640, CodedHeight: 480, Rotation: 180},
			out{DisplaySize{640, 480}, ScalePlan{640, 480, 1}, Aligned{640, 480, true}},
		},
		{
			RawMeta{CodedWidth: 1080, CodedHeight: 1920},
			out{DisplaySize{1080, 1920}, ScalePlan{405, 720, 720.0 / 1920}, Aligned{400, 720, false}},
		},
		{
			RawMeta{CodedWidth: 100, CodedHeight: 50, Rotation: 270},
			out{DisplaySize{50, 100}, ScalePlan{50, 100, 1}, Aligned{48, 96, false}},
		},
	}
	for _, tt := range tests {
		display, err := Resolve(tt.meta)
		require.NoError(t, err)
		plan := PlanScale(display, DefaultMaxHeight, RoundHalfAway)
		got := out{display, plan, DefaultAlignment.Align(plan)}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("pipeline %+v mismatch (-want +got):\n%s", tt.meta, diff)
		}
	}
}
