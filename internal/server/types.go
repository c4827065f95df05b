package server

import "time"

// SubmitPipelineRequest is the POST /pipelines request body.
type SubmitPipelineRequest struct {
	DotSource     string `json:"dot_source,omitempty"`
	DotSourcePath string `json:"dot_source_path,omitempty"`
	ConfigPath    string `json:"config_path,omitempty"`
	RunID         string `json:"run_id,omitempty"`
}

// PipelineStatus is the GET /pipelines/{id} response body.
type PipelineStatus struct {
	RunID         string     `json:"run_id"`
	State         string     `json:"state"`
	CurrentNodeID string     `json:"current_node_id,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	LogsRoot      string     `json:"logs_root,omitempty"`
	LastEvent     string     `json:"last_event,omitempty"`
	LastEventAt   *time.Time `json:"last_event_at,omitempty"`
}

// AnswerRequest is the POST /pipelines/{id}/questions/{qid}/answer body.
type AnswerRequest struct {
	Selected string `json:"selected"`
}

// PendingQuestionView is one entry of GET /pipelines/{id}/questions.
type PendingQuestionView struct {
	QuestionID string       `json:"question_id"`
	NodeID     string       `json:"node_id"`
	Text       string       `json:"text"`
	Choices    []ChoiceView `json:"choices"`
	AskedAt    time.Time    `json:"asked_at"`
}

// ChoiceView mirrors handler.Choice for the HTTP API.
type ChoiceView struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	To    string `json:"to"`
}

// ErrorResponse is the body of any non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}
