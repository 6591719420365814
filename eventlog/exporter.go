// Package eventlog mirrors every bus message into a CloudEvents sink for
// auditing. The default sink writes structured log lines; alternative sinks
// receive the converted events directly.
package eventlog

import (
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/wirehome/core"
	"github.com/wirehome/core/messagebus"
)

// Source identifies the hub in exported events.
const Source = "wirehome-core"

// TypePrefix is prepended to the bus message type to form the CloudEvents
// type, e.g. "com.wirehome.component_registry.event.setting_changed".
const TypePrefix = "com.wirehome."

// Sink consumes converted events.
type Sink func(event cloudevents.Event) error

// Exporter subscribes to the whole bus and forwards every message.
type Exporter struct {
	bus    *messagebus.MessageBus
	sink   Sink
	logger wirehome.Logger
	subUID string
}

// NewExporter creates an exporter. A nil sink logs events instead.
func NewExporter(bus *messagebus.MessageBus, sink Sink, logger wirehome.Logger) *Exporter {
	if logger == nil {
		logger = wirehome.NewSlogLogger(nil)
	}
	e := &Exporter{bus: bus, sink: sink, logger: logger}
	if e.sink == nil {
		e.sink = e.logSink
	}
	return e
}

// Start registers the match-all bus subscription.
func (e *Exporter) Start() error {
	uid, err := e.bus.Subscribe(messagebus.FilterList{{}}, e.handle)
	if err != nil {
		return fmt.Errorf("subscribe event log: %w", err)
	}
	e.subUID = uid
	return nil
}

// Stop removes the bus subscription.
func (e *Exporter) Stop() {
	if e.subUID == "" {
		return
	}
	if err := e.bus.Unsubscribe(e.subUID); err != nil {
		e.logger.Debug("event log subscription already removed")
	}
	e.subUID = ""
}

func (e *Exporter) handle(m messagebus.Message) {
	event, err := Convert(m)
	if err != nil {
		e.logger.Error("converting bus message failed", "type", m.Type(), "error", err)
		return
	}
	if err := e.sink(event); err != nil {
		e.logger.Error("event sink failed", "type", event.Type(), "error", err)
	}
}

func (e *Exporter) logSink(event cloudevents.Event) error {
	e.logger.Debug("bus event", "type", event.Type(), "id", event.ID(), "data", string(event.Data()))
	return nil
}

// Convert turns a bus message into a CloudEvent carrying the full message as
// JSON data.
func Convert(m messagebus.Message) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.New().String())
	event.SetSource(Source)

	messageType := m.Type()
	if messageType == "" {
		messageType = "unknown"
	}
	event.SetType(TypePrefix + messageType)

	if err := event.SetData(cloudevents.ApplicationJSON, map[string]interface{}(m)); err != nil {
		return event, fmt.Errorf("set event data: %w", err)
	}
	return event, nil
}
