package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fieldserve/workorder/internal/domain"
)

// HTTPNotifier delivers outreach through the hosted messaging provider.
// The channel selects the delivery route: warm and cold outreach post to
// different provider paths.
type HTTPNotifier struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPNotifier(baseURL string, timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{},
	}
}

type notifyPayload struct {
	OutreachID  string `json:"outreach_id"`
	JobID       string `json:"job_id"`
	TechID      string `json:"technician_id"`
	Title       string `json:"title"`
	Trade       string `json:"trade"`
	Urgency     string `json:"urgency"`
	AddressText string `json:"address"`
}

func (n *HTTPNotifier) Notify(ctx context.Context, req NotifyRequest) NotifyResult {
	start := time.Now()

	payload := notifyPayload{
		OutreachID:  req.OutreachID.String(),
		JobID:       req.JobID.String(),
		TechID:      req.TechID.String(),
		Title:       req.Title,
		Trade:       string(req.Trade),
		Urgency:     string(req.Urgency),
		AddressText: req.AddressText,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return NotifyResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	timeout := n.timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path := "/outreach/cold"
	if req.Channel == domain.OutreachChannelWarm {
		path = "/outreach/warm"
	}

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, n.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return NotifyResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Outreach-ID", payload.OutreachID)

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return NotifyResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return NotifyResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}
