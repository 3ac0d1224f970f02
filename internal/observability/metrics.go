package observability

import (
	"fmt"
	"time"
)

// Metrics holds calculated metrics derived from the event log.
type Metrics struct {
	TasksCreated  int            `json:"tasks_created"`
	TasksApproved int            `json:"tasks_approved"`
	TasksReworked int            `json:"tasks_reworked"`
	TasksByStatus map[string]int `json:"tasks_by_status"`
	TasksByType   map[string]int `json:"tasks_by_type"`
	ChainsCreated int            `json:"chains_created"`
	ChainsDeleted int            `json:"chains_deleted"`
	EventCount    int            `json:"event_count"`
	OldestEvent   *time.Time     `json:"oldest_event,omitempty"`
	NewestEvent   *time.Time     `json:"newest_event,omitempty"`
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

// metricsCalculator implements MetricsCalculator by reading from an EventLog.
type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into
// metrics. TasksByStatus counts transitions into each status, and a
// transition into done counts as an approval.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		TasksByStatus: make(map[string]int),
		TasksByType:   make(map[string]int),
	}

	m.EventCount = len(events)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case EventTaskCreated:
			m.TasksCreated++
			if taskType, ok := event.Data["type"].(string); ok {
				m.TasksByType[taskType]++
			}
		case EventTaskReworkCreated:
			m.TasksReworked++
		case EventTaskStatusChanged:
			if status, ok := event.Data["new_status"].(string); ok {
				m.TasksByStatus[status]++
				if status == "done" {
					m.TasksApproved++
				}
			}
		case EventChainCreated:
			m.ChainsCreated++
		case EventChainDeleted:
			m.ChainsDeleted++
		}
	}

	return m, nil
}
