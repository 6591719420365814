package eventlog

import (
	"encoding/json"
	"sync"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wirehome/core/messagebus"
)

func TestExporterForwardsBusMessages(t *testing.T) {
	bus, err := messagebus.New(nil, nil, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var events []cloudevents.Event
	exporter := NewExporter(bus, func(e cloudevents.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	}, nil)
	require.NoError(t, exporter.Start())
	defer exporter.Stop()

	require.NoError(t, bus.Publish(messagebus.Message{
		messagebus.KeyType: "component_registry.event.setting_changed",
		"component_uid":    "lamp.1",
	}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "com.wirehome.component_registry.event.setting_changed", events[0].Type())
	assert.Equal(t, Source, events[0].Source())

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(events[0].Data(), &data))
	assert.Equal(t, "lamp.1", data["component_uid"])
}

func TestStopIsIdempotent(t *testing.T) {
	bus, err := messagebus.New(nil, nil, nil)
	require.NoError(t, err)
	exporter := NewExporter(bus, nil, nil)
	require.NoError(t, exporter.Start())
	exporter.Stop()
	exporter.Stop()
}

func TestConvertWithoutType(t *testing.T) {
	event, err := Convert(messagebus.Message{"payload": 1})
	require.NoError(t, err)
	assert.Equal(t, TypePrefix+"unknown", event.Type())
}
