package wirehome

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValuesEqualAcrossNumericTypes(t *testing.T) {
	assert.True(t, ValuesEqual(50, float64(50)))
	assert.True(t, ValuesEqual(int64(3), 3))
	assert.False(t, ValuesEqual(50, 51))
	assert.False(t, ValuesEqual(50, "50"))
}

func TestValuesEqualNested(t *testing.T) {
	a := map[string]interface{}{"color": []interface{}{255, 128, 0}, "on": true}
	b := map[string]interface{}{"on": true, "color": []interface{}{float64(255), float64(128), float64(0)}}
	assert.True(t, ValuesEqual(a, b))

	b["on"] = false
	assert.False(t, ValuesEqual(a, b))
}

func TestValuesEqualNil(t *testing.T) {
	assert.True(t, ValuesEqual(nil, nil))
	assert.False(t, ValuesEqual(nil, 0))
	assert.False(t, ValuesEqual(nil, false))
}

func TestNormalizeValue(t *testing.T) {
	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	v, err := NormalizeValue(point{X: 1, Y: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": float64(1), "y": float64(2)}, v)
}

func TestCloneValueMapIsIndependent(t *testing.T) {
	src := map[string]Value{"nested": map[string]interface{}{"a": 1}}
	dst := CloneValueMap(src)

	dst["nested"].(map[string]interface{})["a"] = 99
	assert.True(t, ValuesEqual(src["nested"], map[string]interface{}{"a": 1}))
}

func TestShutdownToken(t *testing.T) {
	token := NewShutdownToken(nil)
	assert.False(t, token.IsShutdown())

	token.Signal()
	assert.True(t, token.IsShutdown())
	select {
	case <-token.Done():
	default:
		t.Fatal("done channel not closed after signal")
	}

	// Idempotent.
	token.Signal()
}
