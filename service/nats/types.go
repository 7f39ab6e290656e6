package nats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/candymint/service/minter"
)

const (
	// StreamName is the name of the JetStream stream for presentation events.
	StreamName = "CANDYMINT_EVENTS"

	// SubjectPrefix roots every event subject.
	SubjectPrefix = "candymint"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + ".>"

	// StreamRetention is how long events are retained.
	StreamRetention = 7 * 24 * time.Hour
)

// Subject is where an event is published:
// "candymint.{machine}.{event_type}".
func Subject(event *minter.Event) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, event.Machine, event.Type)
}

// MachineSubjects filters every event of one machine.
func MachineSubjects(machine string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, machine)
}

// EventTypeFromSubject extracts the event type from a subject.
func EventTypeFromSubject(subject string) (minter.EventType, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != SubjectPrefix {
		return "", false
	}
	return minter.EventType(parts[2]), true
}

// DecodeEvent parses and validates a published event.
func DecodeEvent(data []byte) (*minter.Event, error) {
	var event minter.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}
