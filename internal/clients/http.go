package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vedtaksync/internal/domain"
)

const defaultClientTimeout = 5 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &http.Client{Timeout: timeout}
}

func postJSON(ctx context.Context, client *http.Client, rawURL string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// HTTPArchive is the document-archive client. When Fallback is set, a failed
// call resolves to FallbackReference instead of an error; only non-production
// environments run with retry disabled this way.
type HTTPArchive struct {
	BaseURL           string
	Fallback          bool
	FallbackReference string
	client            *http.Client
}

func NewHTTPArchive(baseURL string, timeout time.Duration, fallback bool, fallbackReference string) *HTTPArchive {
	return &HTTPArchive{
		BaseURL:           strings.TrimRight(baseURL, "/"),
		Fallback:          fallback,
		FallbackReference: fallbackReference,
		client:            newHTTPClient(timeout),
	}
}

type archiveRequest struct {
	DecisionID   string `json:"decision_id"`
	SubjectID    string `json:"subject_id"`
	CaseWorkerID string `json:"case_worker_id"`
	Document     string `json:"document_base64"`
}

type archiveResponse struct {
	Reference string `json:"reference"`
}

func (c *HTTPArchive) Archive(ctx context.Context, d domain.Decision, document []byte) (string, error) {
	req := archiveRequest{
		DecisionID:   d.ID.String(),
		SubjectID:    d.SubjectID,
		CaseWorkerID: d.CaseWorkerID,
		Document:     base64.StdEncoding.EncodeToString(document),
	}
	var res archiveResponse
	if err := postJSON(ctx, c.client, c.BaseURL+"/archive", req, &res); err != nil {
		if c.Fallback && c.FallbackReference != "" {
			log.Printf("archive: call failed, using fallback reference %s: %v", c.FallbackReference, err)
			return c.FallbackReference, nil
		}
		return "", err
	}
	if res.Reference == "" {
		return "", fmt.Errorf("archive: empty reference in response")
	}
	return res.Reference, nil
}

// HTTPTask is the task-management client.
type HTTPTask struct {
	BaseURL string
	client  *http.Client
}

func NewHTTPTask(baseURL string, timeout time.Duration) *HTTPTask {
	return &HTTPTask{BaseURL: strings.TrimRight(baseURL, "/"), client: newHTTPClient(timeout)}
}

type taskRequest struct {
	DecisionID       string `json:"decision_id"`
	SubjectID        string `json:"subject_id"`
	CaseWorkerID     string `json:"case_worker_id"`
	ArchiveReference string `json:"archive_reference,omitempty"`
}

type taskResponse struct {
	Reference string `json:"reference"`
}

func (c *HTTPTask) CreateTask(ctx context.Context, d domain.Decision) (string, error) {
	req := taskRequest{
		DecisionID:   d.ID.String(),
		SubjectID:    d.SubjectID,
		CaseWorkerID: d.CaseWorkerID,
	}
	if d.ArchiveReference != nil {
		req.ArchiveReference = *d.ArchiveReference
	}
	var res taskResponse
	if err := postJSON(ctx, c.client, c.BaseURL+"/tasks", req, &res); err != nil {
		return "", err
	}
	if res.Reference == "" {
		return "", fmt.Errorf("task: empty reference in response")
	}
	return res.Reference, nil
}

// HTTPEventBus posts status and notification events to bus endpoints. The bus
// acknowledges with 2xx before the call returns.
type HTTPEventBus struct {
	StatusURL       string
	NotificationURL string
	client          *http.Client
}

func NewHTTPEventBus(statusURL, notificationURL string, timeout time.Duration) *HTTPEventBus {
	return &HTTPEventBus{StatusURL: statusURL, NotificationURL: notificationURL, client: newHTTPClient(timeout)}
}

func (c *HTTPEventBus) PublishStatus(ctx context.Context, evt StatusEvent) error {
	return postJSON(ctx, c.client, c.StatusURL, evt, nil)
}

func (c *HTTPEventBus) PublishNotification(ctx context.Context, evt NotificationEvent) error {
	return postJSON(ctx, c.client, c.NotificationURL, evt, nil)
}

// HTTPPersonRegistry looks up domicile and protection level for a subject.
type HTTPPersonRegistry struct {
	BaseURL string
	client  *http.Client
}

func NewHTTPPersonRegistry(baseURL string, timeout time.Duration) *HTTPPersonRegistry {
	return &HTTPPersonRegistry{BaseURL: strings.TrimRight(baseURL, "/"), client: newHTTPClient(timeout)}
}

type domicileResponse struct {
	MunicipalityCode string `json:"municipality_code"`
	DistrictCode     string `json:"district_code"`
	Abroad           bool   `json:"abroad"`
}

func (c *HTTPPersonRegistry) Domicile(ctx context.Context, subjectID string) (domain.Domicile, error) {
	var res domicileResponse
	if err := getJSON(ctx, c.client, c.BaseURL+"/persons/"+url.PathEscape(subjectID)+"/domicile", &res); err != nil {
		return domain.Domicile{}, err
	}
	return domain.Domicile{
		MunicipalityCode: res.MunicipalityCode,
		DistrictCode:     res.DistrictCode,
		Abroad:           res.Abroad,
	}, nil
}

type protectionResponse struct {
	Level string `json:"level"`
}

func (c *HTTPPersonRegistry) ProtectionLevel(ctx context.Context, subjectID string) (domain.ProtectionLevel, error) {
	var res protectionResponse
	if err := getJSON(ctx, c.client, c.BaseURL+"/persons/"+url.PathEscape(subjectID)+"/protection", &res); err != nil {
		return "", err
	}
	if res.Level == "" {
		return domain.ProtectionNone, nil
	}
	return domain.ProtectionLevel(res.Level), nil
}

// HTTPRenderer requests the rendered PDF from the document renderer.
type HTTPRenderer struct {
	BaseURL string
	client  *http.Client
}

func NewHTTPRenderer(baseURL string, timeout time.Duration) *HTTPRenderer {
	return &HTTPRenderer{BaseURL: strings.TrimRight(baseURL, "/"), client: newHTTPClient(timeout)}
}

func (c *HTTPRenderer) Render(ctx context.Context, d domain.Decision) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/render", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("render: status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return io.ReadAll(res.Body)
}
