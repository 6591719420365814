package wirehome

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationFromYAML(t *testing.T) {
	var out struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 1m30s"), &out))
	assert.Equal(t, Duration(90*time.Second), out.D)

	// Bare integers are nanoseconds, matching time.Duration.
	require.NoError(t, yaml.Unmarshal([]byte("d: 1000000000"), &out))
	assert.Equal(t, Duration(time.Second), out.D)
}

func TestDurationFromTOML(t *testing.T) {
	var out struct {
		D Duration `toml:"d"`
	}
	require.NoError(t, toml.Unmarshal([]byte(`d = "250ms"`), &out))
	assert.Equal(t, Duration(250*time.Millisecond), out.D)
}

func TestDurationJSONRoundTrip(t *testing.T) {
	var out struct {
		D Duration `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"d":"2s"}`), &out))
	assert.Equal(t, Duration(2*time.Second), out.D)

	require.NoError(t, json.Unmarshal([]byte(`{"d":2000000000}`), &out))
	assert.Equal(t, Duration(2*time.Second), out.D)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2s"}`, string(raw))
}

func TestDurationRejectsGarbage(t *testing.T) {
	var d Duration
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
