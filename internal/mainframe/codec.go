// Package mainframe implements the legacy-protocol bridge: the fixed-width
// message codec and the queue send/receive paths that carry decisions to the
// mainframe and correlate its asynchronous receipts back.
package mainframe

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"vedtaksync/internal/domain"
)

// Fixed-width field constants. The concatenation of all fields is a golden
// contract with the mainframe; changing any width breaks the channel.
const (
	recordTag      = "K278M810"      // width 8
	actionTag      = "SENDMELDING"   // width 11
	sourceTag      = "MODIA"         // width 5
	headerFiller   = "00000"         // width 5
	messageKind    = "O "            // width 2
	blockID        = "K278M83000001" // width 13
	messageTypeID  = "MA-TSP-1"      // width 10, space padded
	subBlockID     = "001FA"         // width 5
	trailerBlockID = "K278M84000000" // width 13

	caseWorkerWidth = 8
	dateWidth       = 8 // ddMMyyyy
	timeWidth       = 6 // HHmmss
	locationWidth   = 4
	subjectIDWidth  = 11
	midFillerWidth  = 4
	bodyFillerWidth = 72

	// RecordLength is the total encoded message size in bytes.
	RecordLength = 201
)

const (
	dateLayout = "02012006"
	timeLayout = "150405"
)

// Receipt layout: the subject id occupies the 11 bytes ending at the
// disposition flag; everything after the flag is the free-text reason.
const (
	receiptMinLength      = 55
	receiptSubjectEnd     = 54
	receiptSubjectStart   = receiptSubjectEnd - subjectIDWidth
	receiptDispositionPos = 54
	receiptReasonStart    = 55
)

const receiptAccepted = 'J'

// ErrProtectedIdentity is the permanent refusal to put a strictly
// confidential subject on the legacy channel.
var ErrProtectedIdentity = errors.New("subject protection level forbids the mainframe channel")

// ErrMalformedReceipt marks a receipt too short to carry a disposition flag.
var ErrMalformedReceipt = errors.New("receipt shorter than minimum record length")

// Encode produces the fixed-width outbound record for a decision. It refuses
// to encode subjects whose protection level forbids the channel.
func Encode(d domain.Decision, domicile domain.Domicile, level domain.ProtectionLevel, sentAt time.Time) (string, error) {
	if level.BlocksMainframe() {
		return "", fmt.Errorf("decision %s: %w", d.ID, ErrProtectedIdentity)
	}
	var b strings.Builder
	b.Grow(RecordLength)
	b.WriteString(recordTag)
	b.WriteString(actionTag)
	b.WriteString(sourceTag)
	b.WriteString(padRight(d.CaseWorkerID, caseWorkerWidth))
	b.WriteString(headerFiller)
	b.WriteString(sentAt.Format(dateLayout))
	b.WriteString(sentAt.Format(timeLayout))
	b.WriteString(padZero(domicile.LocationCode(), locationWidth))
	b.WriteString(padRight(d.SubjectID, subjectIDWidth))
	b.WriteString(strings.Repeat(" ", midFillerWidth))
	b.WriteString(messageKind)
	b.WriteString(blockID)
	b.WriteString(padRight(messageTypeID, 10))
	b.WriteString(subBlockID)
	b.WriteString(d.ValidFrom.Format(dateLayout))
	b.WriteString(d.ValidTo.Format(dateLayout))
	b.WriteString(strings.Repeat(" ", bodyFillerWidth))
	b.WriteString(trailerBlockID)
	record := b.String()
	if len(record) != RecordLength {
		return "", fmt.Errorf("encoded record is %d bytes, want %d", len(record), RecordLength)
	}
	return record, nil
}

// Receipt is the decoded asynchronous acknowledgement.
type Receipt struct {
	SubjectID       string
	Ok              bool
	RejectionReason string
}

// DecodeReceipt parses an already-transcoded receipt record by fixed offsets.
func DecodeReceipt(record string) (Receipt, error) {
	if len(record) < receiptMinLength {
		return Receipt{}, fmt.Errorf("%w: %d bytes", ErrMalformedReceipt, len(record))
	}
	r := Receipt{
		SubjectID: strings.TrimSpace(record[receiptSubjectStart:receiptSubjectEnd]),
		Ok:        record[receiptDispositionPos] == receiptAccepted,
	}
	if !r.Ok && len(record) > receiptReasonStart {
		r.RejectionReason = strings.TrimSpace(record[receiptReasonStart:])
	}
	return r, nil
}

// DecodeReceiptBytes transcodes a raw receipt from the queue's native
// mainframe character set (IBM CP1047) and parses it.
func DecodeReceiptBytes(raw []byte) (Receipt, error) {
	text, err := charmap.CodePage1047.NewDecoder().Bytes(raw)
	if err != nil {
		return Receipt{}, fmt.Errorf("transcode receipt: %w", err)
	}
	return DecodeReceipt(string(text))
}

// EncodeReceiptBytes renders a receipt record into the mainframe character
// set. Only tests use it.
func EncodeReceiptBytes(record string) ([]byte, error) {
	return charmap.CodePage1047.NewEncoder().Bytes([]byte(record))
}

func padRight(v string, width int) string {
	if len(v) > width {
		return v[:width]
	}
	return v + strings.Repeat(" ", width-len(v))
}

func padZero(v string, width int) string {
	if len(v) > width {
		return v[len(v)-width:]
	}
	return strings.Repeat("0", width-len(v)) + v
}
