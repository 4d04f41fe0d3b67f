package engine

import "time"

type EventType string

const (
	EventQueryStart       EventType = "QUERY_START"
	EventDataFetchStart   EventType = "DATA_FETCH_START"
	EventDataFetchStop    EventType = "DATA_FETCH_STOP"
	EventAbstractionStart EventType = "ABSTRACTION_START"
	EventAbstractionStop  EventType = "ABSTRACTION_STOP"
	EventOutputStart      EventType = "OUTPUT_START"
	EventOutputStop       EventType = "OUTPUT_STOP"
	EventQueryStop        EventType = "QUERY_STOP"
)

// Event reports engine progress to listeners.
type Event struct {
	Type        EventType
	Description string
	Time        time.Time
}

// EventListener is called synchronously from Execute.
type EventListener func(Event)
