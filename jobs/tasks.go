package jobs

import (
	"encoding/json"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCleanupExpired removes assignments whose expiry has passed.
	TaskCleanupExpired = "policy:cleanup_expired"
)

// CleanupPayload tags a cleanup run with who or what triggered it.
type CleanupPayload struct {
	Trigger string `json:"trigger"`
}

// NewCleanupExpiredTask constructs the cleanup task. An empty trigger is
// recorded as "schedule".
func NewCleanupExpiredTask(trigger string) (*asynq.Task, error) {
	trigger = strings.TrimSpace(trigger)
	if trigger == "" {
		trigger = "schedule"
	}
	data, err := json.Marshal(CleanupPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCleanupExpired, data), nil
}
