package amqp

import (
	"encoding/json"
	"time"
)

// PlanSavedMessage notifies workers that a budget plan was saved. It carries
// only the period and row count; consumers load the full plan from storage.
type PlanSavedMessage struct {
	PeriodStart time.Time `json:"period_start"`
	SavedCount  int       `json:"saved_count"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewPlanSavedMessage(periodStart time.Time, savedCount int) *PlanSavedMessage {
	return &PlanSavedMessage{
		PeriodStart: periodStart,
		SavedCount:  savedCount,
		Timestamp:   time.Now(),
	}
}

func (m *PlanSavedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func PlanSavedMessageFromJSON(data []byte) (*PlanSavedMessage, error) {
	var msg PlanSavedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
