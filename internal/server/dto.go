package server

import (
	"time"

	"vedtaksync/internal/domain"
	"vedtaksync/internal/engine"
)

const dateLayout = "2006-01-02"

type CreateDecisionRequest struct {
	SubjectID    string `json:"subject_id" example:"12345678910"`
	CaseWorkerID string `json:"case_worker_id,omitempty" example:"A123456"`
	Reasoning    string `json:"reasoning,omitempty"`
	ValidFrom    string `json:"valid_from" example:"2024-03-02"`
	ValidTo      string `json:"valid_to" example:"2024-04-01"`
}

type CloseDecisionRequest struct {
	ClosedBy *string `json:"closed_by,omitempty"`
}

type DecisionResponse struct {
	Body domain.Decision
}

type DecisionListResponse struct {
	Body struct {
		Decisions []domain.Decision `json:"decisions"`
	}
}

type SyncResponse struct {
	Body engine.SyncState
}

type EventsResponse struct {
	Body struct {
		Events []domain.Event `json:"events"`
	}
}

func parseDate(v string) (time.Time, error) {
	return time.Parse(dateLayout, v)
}
