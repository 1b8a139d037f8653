package response

import (
	"encoding/json"

	"booking-core/internal/usecase/commands"
)

type WebhookResponse struct {
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason,omitempty"`
	Replayed bool   `json:"replayed,omitempty"`
}

func FromWebhookResult(result *commands.WebhookResult) *WebhookResponse {
	return &WebhookResponse{
		Outcome:  string(result.Outcome),
		Reason:   string(result.Reason),
		Replayed: result.Replayed,
	}
}

type StateResponse struct {
	Value json.RawMessage `json:"value"`
}
