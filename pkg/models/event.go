package models

// Event types emitted by the task and chain managers and counted by the
// metrics calculator.
const (
	EventTaskCreated       = "task.created"
	EventTaskReworkCreated = "task.rework_created"
	EventTaskStatusChanged = "task.status_changed"
	EventTaskUpdated       = "task.updated"
	EventTaskDeleted       = "task.deleted"
	EventChainCreated      = "chain.created"
	EventChainUpdated      = "chain.updated"
	EventChainDeleted      = "chain.deleted"
)
