package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	ChainID     string        `json:"chain_id,omitempty"`
	TaskID      string        `json:"task_id,omitempty"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	BlockedHours   int `yaml:"blocked_threshold_hours" json:"blocked_threshold_hours"`
	StaleDays      int `yaml:"stale_threshold_days" json:"stale_threshold_days"`
	ReviewDays     int `yaml:"review_threshold_days" json:"review_threshold_days"`
	MaxBacklogSize int `yaml:"max_backlog_size" json:"max_backlog_size"`
}

// DefaultAlertThresholds returns sensible defaults for alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		BlockedHours:   24,
		StaleDays:      3,
		ReviewDays:     5,
		MaxBacklogSize: 10,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

// alertEngine implements AlertEngine by reading events and checking thresholds.
type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
	now        func() time.Time
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// taskKey identifies a task across chains; task ids are only unique within
// their chain.
type taskKey struct {
	chainID string
	taskID  string
}

func (k taskKey) String() string {
	if k.chainID == "" {
		return k.taskID
	}
	return k.chainID + "/" + k.taskID
}

type taskState struct {
	status       string
	changedAt    time.Time
	lastActivity time.Time
}

// Evaluate replays the event log into the latest known state of every task
// and checks all alert conditions, returning any triggered alerts.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := ae.now()

	tasks, err := ae.replay()
	if err != nil {
		return nil, fmt.Errorf("replaying events for alerts: %w", err)
	}

	keys := make([]taskKey, 0, len(tasks))
	for k := range tasks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var alerts []Alert
	alerts = append(alerts, ae.checkBlockedTasks(now, keys, tasks)...)
	alerts = append(alerts, ae.checkStaleTasks(now, keys, tasks)...)
	alerts = append(alerts, ae.checkLongReviews(now, keys, tasks)...)
	alerts = append(alerts, ae.checkBacklogSize(now, tasks)...)
	return alerts, nil
}

// replay folds task events into per-task state. Deleted tasks and the tasks
// of deleted chains are forgotten.
func (ae *alertEngine) replay() (map[taskKey]*taskState, error) {
	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, err
	}

	tasks := make(map[taskKey]*taskState)
	for _, event := range events {
		chainID, _ := event.Data["chain_id"].(string)
		if event.Type == EventChainDeleted {
			for k := range tasks {
				if k.chainID == chainID {
					delete(tasks, k)
				}
			}
			continue
		}

		taskID, _ := event.Data["task_id"].(string)
		if taskID == "" {
			continue
		}
		key := taskKey{chainID: chainID, taskID: taskID}

		switch event.Type {
		case EventTaskCreated, EventTaskReworkCreated:
			tasks[key] = &taskState{status: "backlog", changedAt: event.Time, lastActivity: event.Time}
			continue
		case EventTaskDeleted:
			delete(tasks, key)
			continue
		}

		state, ok := tasks[key]
		if !ok {
			state = &taskState{}
			tasks[key] = state
		}
		if event.Time.After(state.lastActivity) {
			state.lastActivity = event.Time
		}
		if event.Type == EventTaskStatusChanged {
			if newStatus, ok := event.Data["new_status"].(string); ok && newStatus != "" {
				state.status = newStatus
				state.changedAt = event.Time
			}
		}
	}
	return tasks, nil
}

// checkBlockedTasks looks for tasks that have been blocked longer than the threshold.
func (ae *alertEngine) checkBlockedTasks(now time.Time, keys []taskKey, tasks map[taskKey]*taskState) []Alert {
	threshold := time.Duration(ae.thresholds.BlockedHours) * time.Hour
	var alerts []Alert
	for _, k := range keys {
		state := tasks[k]
		if state.status == "blocked" && now.Sub(state.changedAt) > threshold {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("blocked-%s", k),
				Condition:   "task_blocked_too_long",
				Severity:    SeverityHigh,
				ChainID:     k.chainID,
				TaskID:      k.taskID,
				Message:     fmt.Sprintf("task %s has been blocked for more than %d hours", k, ae.thresholds.BlockedHours),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}

// checkStaleTasks looks for in-progress tasks with no recent activity.
func (ae *alertEngine) checkStaleTasks(now time.Time, keys []taskKey, tasks map[taskKey]*taskState) []Alert {
	threshold := time.Duration(ae.thresholds.StaleDays) * 24 * time.Hour
	var alerts []Alert
	for _, k := range keys {
		state := tasks[k]
		if state.status == "in-progress" && now.Sub(state.lastActivity) > threshold {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("stale-%s", k),
				Condition:   "task_stale",
				Severity:    SeverityMedium,
				ChainID:     k.chainID,
				TaskID:      k.taskID,
				Message:     fmt.Sprintf("task %s has had no activity for more than %d days", k, ae.thresholds.StaleDays),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}

// checkLongReviews looks for tasks in review longer than the threshold.
func (ae *alertEngine) checkLongReviews(now time.Time, keys []taskKey, tasks map[taskKey]*taskState) []Alert {
	threshold := time.Duration(ae.thresholds.ReviewDays) * 24 * time.Hour
	var alerts []Alert
	for _, k := range keys {
		state := tasks[k]
		if state.status == "in-review" && now.Sub(state.changedAt) > threshold {
			alerts = append(alerts, Alert{
				ID:          fmt.Sprintf("review-%s", k),
				Condition:   "review_too_long",
				Severity:    SeverityMedium,
				ChainID:     k.chainID,
				TaskID:      k.taskID,
				Message:     fmt.Sprintf("task %s has been in review for more than %d days", k, ae.thresholds.ReviewDays),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}

// checkBacklogSize counts tasks currently in backlog and alerts if over the threshold.
func (ae *alertEngine) checkBacklogSize(now time.Time, tasks map[taskKey]*taskState) []Alert {
	backlogCount := 0
	for _, state := range tasks {
		if state.status == "backlog" {
			backlogCount++
		}
	}

	if backlogCount <= ae.thresholds.MaxBacklogSize {
		return nil
	}
	return []Alert{{
		ID:          "backlog-size",
		Condition:   "backlog_too_large",
		Severity:    SeverityLow,
		Message:     fmt.Sprintf("backlog has %d tasks, exceeding the maximum of %d", backlogCount, ae.thresholds.MaxBacklogSize),
		TriggeredAt: now,
	}}
}
