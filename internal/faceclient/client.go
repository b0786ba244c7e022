package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// FaceQuality contains face quality metrics reported by the service.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	IsFrontal bool    `json:"is_frontal"`
}

// EnrollResult contains face enrollment response.
type EnrollResult struct {
	UserID  int64
	Success bool
	Quality *FaceQuality
	Message string
}

// SearchMatch represents a face match from gallery search.
type SearchMatch struct {
	UserID     int64   `json:"user_id"`
	Similarity float64 `json:"similarity"`
}

// SearchResult contains 1:N search results.
type SearchResult struct {
	Matches       []SearchMatch
	FacesDetected int
	Quality       *FaceQuality
}

// Client calls the face recognition microservice. When Skip is set
// (dev / tests) every call returns a canned successful response.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with a generous timeout; face processing is slow.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// Enroll registers a person's face in the recognition gallery so later
// check-in photos can be matched back to them.
func (c *Client) Enroll(ctx context.Context, userID int64, imageURL string) (*EnrollResult, error) {
	if c.Skip {
		return &EnrollResult{
			UserID:  userID,
			Success: true,
			Quality: &FaceQuality{Score: 0.85, IsFrontal: true},
			Message: "face enrolled (mock)",
		}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}

	out := struct {
		UserID  int64        `json:"user_id"`
		Success bool         `json:"success"`
		Quality *FaceQuality `json:"quality"`
		Message string       `json:"message"`
	}{}
	err := c.post(ctx, "/enroll", map[string]any{
		"user_id":   userID,
		"image_url": imageURL,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &EnrollResult{UserID: out.UserID, Success: out.Success, Quality: out.Quality, Message: out.Message}, nil
}

// Search performs 1:N identification of the face in imageURL against
// the enrolled gallery.
func (c *Client) Search(ctx context.Context, imageURL string, threshold float64) (*SearchResult, error) {
	if c.Skip {
		return &SearchResult{
			Matches:       []SearchMatch{{UserID: 1, Similarity: 0.92}},
			FacesDetected: 1,
			Quality:       &FaceQuality{Score: 0.85, IsFrontal: true},
		}, nil
	}

	payload := map[string]any{"image_url": imageURL, "top_k": 1}
	if threshold > 0 {
		payload["threshold"] = threshold
	}
	out := struct {
		Matches       []SearchMatch `json:"matches"`
		FacesDetected int           `json:"faces_detected"`
		Quality       *FaceQuality  `json:"quality"`
	}{}
	if err := c.post(ctx, "/search", payload, &out); err != nil {
		return nil, err
	}
	return &SearchResult{Matches: out.Matches, FacesDetected: out.FacesDetected, Quality: out.Quality}, nil
}

// DeleteSubject removes a person's gallery enrollment. Called when the
// person is deleted so their face cannot keep matching.
func (c *Client) DeleteSubject(ctx context.Context, userID int64) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/subjects/"+strconv.FormatInt(userID, 10), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(body))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
