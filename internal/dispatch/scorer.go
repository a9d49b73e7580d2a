package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fieldserve/workorder/internal/domain"
)

const scorerProviderName = "scorer"

// Breaker short-circuits calls to an unhealthy scorer.
type Breaker interface {
	Allow(provider string) error
	RecordSuccess(provider string)
	RecordFailure(provider string)
}

// HTTPScorer implements Scorer against the hosted compliance/matching
// service: GET {base}/rank?policy_id=… or ?trade=…&lat=…&lng=… returns a
// ranked candidate list.
type HTTPScorer struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	breaker Breaker // optional, nil = disabled
}

func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// WithBreaker attaches a circuit breaker.
func (s *HTTPScorer) WithBreaker(b Breaker) *HTTPScorer {
	s.breaker = b
	return s
}

type rankResponse struct {
	Candidates []struct {
		TechnicianID       string   `json:"technician_id"`
		Score              float64  `json:"score"`
		PassedRequirements []string `json:"passed_requirements"`
		FailedRequirements []string `json:"failed_requirements"`
	} `json:"candidates"`
}

func (s *HTTPScorer) RankCandidates(ctx context.Context, job domain.Job) ([]domain.Candidate, error) {
	if s.breaker != nil {
		if err := s.breaker.Allow(scorerProviderName); err != nil {
			return nil, err
		}
	}

	candidates, err := s.rank(ctx, job)
	if s.breaker != nil {
		if err != nil {
			s.breaker.RecordFailure(scorerProviderName)
		} else {
			s.breaker.RecordSuccess(scorerProviderName)
		}
	}
	return candidates, err
}

func (s *HTTPScorer) rank(ctx context.Context, job domain.Job) ([]domain.Candidate, error) {
	timeout := s.timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Policy-keyed ranking when the job carries a compliance policy;
	// trade+proximity otherwise.
	params := url.Values{}
	if job.PolicyID != nil {
		params.Set("policy_id", job.PolicyID.String())
	} else {
		params.Set("trade", string(job.Trade))
		params.Set("lat", strconv.FormatFloat(job.Location.Lat, 'f', -1, 64))
		params.Set("lng", strconv.FormatFloat(job.Location.Lng, 'f', -1, 64))
	}

	reqURL := s.baseURL + "/rank?" + params.Encode()
	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scorer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scorer status %d", resp.StatusCode)
	}

	var body rankResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode scorer response: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(body.Candidates))
	for _, c := range body.Candidates {
		techID, err := uuid.Parse(c.TechnicianID)
		if err != nil {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			TechID:             techID,
			Score:              c.Score,
			PassedRequirements: c.PassedRequirements,
			FailedRequirements: c.FailedRequirements,
		})
	}
	return candidates, nil
}
