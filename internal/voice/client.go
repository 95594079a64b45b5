package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.vapi.ai"

// Client wraps the voice-agent vendor's call-lookup endpoint.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBaseURL points the client at an alternate endpoint. Used by tests.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// Call is the subset of the vendor's call object we consume. The recording URL
// has appeared in four different places across vendor API versions, so all four
// are modeled and tried in precedence order.
type Call struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Artifact      *Artifact  `json:"artifact"`
	RecordingURL  string     `json:"recordingUrl"`
	Recording     *Recording `json:"recording"`
	RecordingPath string     `json:"recordingPath"`
}

type Artifact struct {
	RecordingURL string `json:"recordingUrl"`
}

type Recording struct {
	URL string `json:"url"`
}

// GetCall fetches the vendor's call object for the given call id.
func (c *Client) GetCall(ctx context.Context, callID string) (*Call, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/call/"+callID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vendor call lookup: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vendor returned %d for call %s: %s", resp.StatusCode, callID, string(body))
	}

	var call Call
	if err := json.Unmarshal(body, &call); err != nil {
		return nil, fmt.Errorf("parse call response: %w", err)
	}
	return &call, nil
}

// extractors, in precedence order. Each returns the recording URL if present
// in its shape, or "".
var recordingExtractors = []func(*Call) string{
	func(c *Call) string {
		if c.Artifact != nil {
			return c.Artifact.RecordingURL
		}
		return ""
	},
	func(c *Call) string { return c.RecordingURL },
	func(c *Call) string {
		if c.Recording != nil {
			return c.Recording.URL
		}
		return ""
	},
	func(c *Call) string { return c.RecordingPath },
}

// recordingURL returns the first non-empty recording URL found in the call
// object, or "" if the recording is not (yet) present.
func recordingURL(call *Call) string {
	for _, extract := range recordingExtractors {
		if url := extract(call); url != "" {
			return url
		}
	}
	return ""
}
