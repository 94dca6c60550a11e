package webhook

import (
	"net/http"

	"planguard/internal/types"
)

// ResponseBody is the flat JSON body the provider sees.
type ResponseBody struct {
	Received bool   `json:"received,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Response maps the outcome of Process to a status code and body. Shared by
// the HTTP route and the Lambda entry point.
func Response(err error) (int, ResponseBody) {
	if err == nil {
		return http.StatusOK, ResponseBody{Received: true}
	}
	switch types.CodeOf(err) {
	case types.ErrCodeWebhookSignatureInvalid:
		return http.StatusBadRequest, ResponseBody{Error: "Invalid signature"}
	case types.ErrCodeWebhookPayloadInvalid:
		return http.StatusBadRequest, ResponseBody{Error: "Invalid payload"}
	default:
		return http.StatusInternalServerError, ResponseBody{Error: "Webhook handler failed"}
	}
}
