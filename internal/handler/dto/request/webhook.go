package request

import "encoding/json"

type IngestWebhookRequest struct {
	EventID   string          `json:"event_id" binding:"required"`
	EventType string          `json:"event_type" binding:"required"`
	Payload   json.RawMessage `json:"payload" binding:"required"`
}
