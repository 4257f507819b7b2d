package cases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPService talks to the case-management REST API.
type HTTPService struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPService(baseURL, token string) *HTTPService {
	return &HTTPService{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPService) AddComment(ctx context.Context, caseID, comment string) error {
	body, err := json.Marshal(map[string]string{"comment": comment})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/api/cases/%s/comments", s.baseURL, url.PathEscape(caseID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("case service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("case service returned HTTP %d for case %s", resp.StatusCode, caseID)
	}
	return nil
}
