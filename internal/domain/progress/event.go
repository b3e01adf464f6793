package progress

import "time"

// EventType enum for live progress and chat events.
type EventType string

const (
	AnalysisStarted            EventType = "analysis_started"
	DocumentLoading            EventType = "document_loading"
	DocumentLoaded             EventType = "document_loaded"
	DocumentAnalyzing          EventType = "document_analyzing"
	FindingDiscovered          EventType = "finding_discovered"
	FrameworkComplete          EventType = "framework_complete"
	RiskAssessmentStarted      EventType = "risk_assessment_started"
	RiskAssessmentComplete     EventType = "risk_assessment_complete"
	ExecutiveSummaryGenerating EventType = "executive_summary_generating"
	AnalysisComplete           EventType = "analysis_complete"
	AnalysisError              EventType = "analysis_error"

	ChatMessage          EventType = "chat_message"
	ChatTyping           EventType = "chat_typing"
	ChatResponseChunk    EventType = "chat_response_chunk"
	ChatResponseComplete EventType = "chat_response_complete"

	ConnectionStatus EventType = "connection_status"
)

// Event is the wire payload sent to live subscribers.
type Event struct {
	EventType          EventType      `json:"event_type"`
	Timestamp          time.Time      `json:"timestamp"`
	Data               map[string]any `json:"data"`
	ProgressPercentage *float64       `json:"progress_percentage"`
	Message            *string        `json:"message"`
}

// New builds an event without progress, stamped with the current UTC time.
func New(t EventType, message string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		EventType: t,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Message:   &message,
	}
}
