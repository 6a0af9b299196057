package clients

import (
	"context"
	"fmt"

	"vedtaksync/internal/domain"
)

// TextRenderer renders a plain-text document locally. Used when no renderer
// service is configured, typically CLI runs against a scratch workspace.
type TextRenderer struct{}

func (TextRenderer) Render(_ context.Context, d domain.Decision) ([]byte, error) {
	doc := fmt.Sprintf("Vedtak %s\nSubject: %s\nCase worker: %s\nValid: %s to %s\n\n%s\n",
		d.ID, d.SubjectID, d.CaseWorkerID,
		d.ValidFrom.Format("2006-01-02"), d.ValidTo.Format("2006-01-02"),
		d.Reasoning)
	return []byte(doc), nil
}
