package profile

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresets(t *testing.T) {
	for _, mode := range Modes() {
		p, ok := Preset(mode)
		require.True(t, ok, mode)
		assert.Positive(t, p.FrameRate)
		assert.GreaterOrEqual(t, p.TextureQuality, 0.0)
		assert.LessOrEqual(t, p.TextureQuality, 1.0)
	}

	_, ok := Preset("turbo")
	assert.False(t, ok)

	p, ok := Preset("BALANCED")
	require.True(t, ok)
	assert.Equal(t, Default(), p)
}

func TestEquality(t *testing.T) {
	a := Default()
	b := Default()
	assert.True(t, a.Equal(b))

	c := a.WithFrameRate(90)
	assert.False(t, a.Equal(c))
	assert.Equal(t, 60, a.FrameRate)
	assert.Equal(t, 90, c.FrameRate)
}

func TestNormalize(t *testing.T) {
	p := Profile{FrameRate: -5, TextureQuality: 3}.Normalize(60)
	assert.Equal(t, 60, p.FrameRate)
	assert.Equal(t, 1.0, p.TextureQuality)

	p = Profile{FrameRate: 30, TextureQuality: math.NaN()}.Normalize(60)
	assert.Equal(t, 30, p.FrameRate)
	assert.Zero(t, p.TextureQuality)
}

func TestQualityJSON(t *testing.T) {
	out, err := json.Marshal(Profile{FrameRate: 72, VisualizationQuality: QualityHigh})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"visualization_quality":"high"`)
	assert.Equal(t, "quality(9)", Quality(9).String())
}
