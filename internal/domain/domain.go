package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a decision.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// MainframeStatus is derived from the send and receipt markers. It is never
// stored; the two source fields are the only truth.
type MainframeStatus string

const (
	MainframeNotSent         MainframeStatus = "NOT_SENT"
	MainframeAwaitingReceipt MainframeStatus = "SENT_AWAITING_RECEIPT"
	MainframeReceiptOK       MainframeStatus = "RECEIPT_OK"
	MainframeReceiptRejected MainframeStatus = "RECEIPT_REJECTED"
)

// ProtectionLevel is the person-registry confidentiality grade of a subject.
type ProtectionLevel string

const (
	ProtectionNone                       ProtectionLevel = "UGRADERT"
	ProtectionConfidential               ProtectionLevel = "FORTROLIG"
	ProtectionStrictlyConfidential       ProtectionLevel = "STRENGT_FORTROLIG"
	ProtectionStrictlyConfidentialAbroad ProtectionLevel = "STRENGT_FORTROLIG_UTLAND"
)

// BlocksMainframe reports whether the legacy channel may not carry this
// subject's identity.
func (p ProtectionLevel) BlocksMainframe() bool {
	return p == ProtectionStrictlyConfidential || p == ProtectionStrictlyConfidentialAbroad
}

// Decision is the aggregate root: one welfare decision plus the
// per-destination publication markers the publishers converge.
type Decision struct {
	ID           uuid.UUID `json:"id"`
	SubjectID    string    `json:"subject_id"`
	CaseWorkerID string    `json:"case_worker_id"`
	Reasoning    string    `json:"reasoning"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidTo      time.Time `json:"valid_to"`
	CreatedAt    time.Time `json:"created_at" format:"date-time"`

	ArchiveReference *string    `json:"archive_reference,omitempty"`
	TaskReference    *string    `json:"task_reference,omitempty"`
	NotifiedAt       *time.Time `json:"notified_at,omitempty" format:"date-time"`

	MainframeSentAt          *time.Time `json:"mainframe_sent_at,omitempty" format:"date-time"`
	MainframeReceiptOk       *bool      `json:"mainframe_receipt_ok,omitempty"`
	MainframeRejectionReason *string    `json:"mainframe_rejection_reason,omitempty"`
	MainframeFailedReason    *string    `json:"mainframe_failed_reason,omitempty"`

	Status   Status     `json:"status" enum:"OPEN,CLOSED"`
	ClosedBy *string    `json:"closed_by,omitempty"`
	ClosedAt *time.Time `json:"closed_at,omitempty" format:"date-time"`
}

// NewDecision builds a fresh OPEN decision with all publication markers unset.
func NewDecision(id uuid.UUID, subjectID, caseWorkerID, reasoning string, validFrom, validTo, createdAt time.Time) Decision {
	return Decision{
		ID:           id,
		SubjectID:    subjectID,
		CaseWorkerID: caseWorkerID,
		Reasoning:    reasoning,
		ValidFrom:    validFrom,
		ValidTo:      validTo,
		CreatedAt:    createdAt,
		Status:       StatusOpen,
	}
}

// ReconstructDecision rebuilds a decision from stored state. Only the store's
// row mapping calls this.
func ReconstructDecision(
	id uuid.UUID,
	subjectID, caseWorkerID, reasoning string,
	validFrom, validTo, createdAt time.Time,
	archiveReference, taskReference *string,
	notifiedAt, mainframeSentAt *time.Time,
	mainframeReceiptOk *bool,
	mainframeRejectionReason, mainframeFailedReason *string,
	status Status,
	closedBy *string,
	closedAt *time.Time,
) Decision {
	return Decision{
		ID:                       id,
		SubjectID:                subjectID,
		CaseWorkerID:             caseWorkerID,
		Reasoning:                reasoning,
		ValidFrom:                validFrom,
		ValidTo:                  validTo,
		CreatedAt:                createdAt,
		ArchiveReference:         archiveReference,
		TaskReference:            taskReference,
		NotifiedAt:               notifiedAt,
		MainframeSentAt:          mainframeSentAt,
		MainframeReceiptOk:       mainframeReceiptOk,
		MainframeRejectionReason: mainframeRejectionReason,
		MainframeFailedReason:    mainframeFailedReason,
		Status:                   status,
		ClosedBy:                 closedBy,
		ClosedAt:                 closedAt,
	}
}

// MainframeStatus derives the legacy-channel state from the two source fields.
func (d Decision) MainframeStatus() MainframeStatus {
	if d.MainframeSentAt == nil {
		return MainframeNotSent
	}
	if d.MainframeReceiptOk == nil {
		return MainframeAwaitingReceipt
	}
	if *d.MainframeReceiptOk {
		return MainframeReceiptOK
	}
	return MainframeReceiptRejected
}

// Overlaps reports whether [from, to] intersects the decision's validity
// interval. Both intervals are inclusive.
func (d Decision) Overlaps(from, to time.Time) bool {
	return !d.ValidFrom.After(to) && !from.After(d.ValidTo)
}

// StatusPublication is one status transition awaiting (or done with) its
// event-bus publication. The status publisher converges these rows, not
// decisions.
type StatusPublication struct {
	ID          int64      `json:"id"`
	DecisionID  uuid.UUID  `json:"decision_id"`
	Status      Status     `json:"status" enum:"OPEN,CLOSED"`
	CreatedAt   time.Time  `json:"created_at" format:"date-time"`
	PublishedAt *time.Time `json:"published_at,omitempty" format:"date-time"`
}

// Domicile is the subject's registered residence as reported by the person
// registry. At most one of the codes is set; Abroad wins over both.
type Domicile struct {
	MunicipalityCode string `json:"municipality_code,omitempty"`
	DistrictCode     string `json:"district_code,omitempty"`
	Abroad           bool   `json:"abroad,omitempty"`
}

// abroadLocationCode is the fixed code the legacy system assigns to
// subjects domiciled outside the country.
const abroadLocationCode = "0393"

// LocationCode resolves the 4-digit legacy location code: district code when
// the subject belongs to a city district, municipality code otherwise, the
// fixed out-of-country code when domiciled abroad.
func (d Domicile) LocationCode() string {
	switch {
	case d.Abroad:
		return abroadLocationCode
	case d.DistrictCode != "":
		return padLocation(d.DistrictCode)
	default:
		return padLocation(d.MunicipalityCode)
	}
}

func padLocation(code string) string {
	for len(code) < 4 {
		code = "0" + code
	}
	if len(code) > 4 {
		code = code[len(code)-4:]
	}
	return code
}

// Event is one audit-log row recording a mutation of a decision.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	DecisionID string `json:"decision_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
