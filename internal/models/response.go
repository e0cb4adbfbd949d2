package models

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string `json:"status"`            // status of the API response
	Message string `json:"message,omitempty"` // optional message for error responses or additional info
	Result  any    `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and result data.
func SuccessWithMessage(message string, result any) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// InteractionRequest is the inbound payload for one patient turn.
type InteractionRequest struct {
	PatientID       string          `json:"patient_id"`
	InteractionType InteractionType `json:"interaction_type,omitempty"`
	PatientData     *Patient        `json:"patient_data,omitempty"`
	UserMessage     string          `json:"user_message,omitempty"`
}

// InteractionResult is the outbound payload for one patient turn.
type InteractionResult struct {
	AgentResponse AgentResponse  `json:"agent_response"`
	NextAction    string         `json:"next_action"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
