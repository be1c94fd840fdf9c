package face

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"time"
)

// Client calls the external face descriptor service. The service owns the
// embedding model; this side only receives fixed-length vectors.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// NewClient creates a client. When skip is set, Descriptor returns a
// deterministic mock vector so the rest of the flow works without the
// service running.
func NewClient(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // descriptor extraction can take time
		},
	}
}

// Descriptor requests the face descriptor for an image URL. The service
// returns an error when it detects zero faces, which surfaces here.
func (c *Client) Descriptor(ctx context.Context, imageURL string) ([]float64, error) {
	if c.Skip {
		return mockDescriptor(imageURL), nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}

	body, _ := json.Marshal(map[string]string{"image_url": imageURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Descriptor    []float64 `json:"descriptor"`
		FacesDetected int       `json:"faces_detected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Descriptor) != DescriptorLength {
		return nil, fmt.Errorf("no usable face in image (got %d-length descriptor)", len(out.Descriptor))
	}
	return out.Descriptor, nil
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

// mockDescriptor derives a stable vector from the image URL so that in skip
// mode the same URL always compares equal to itself and distinct URLs stay
// far apart.
func mockDescriptor(imageURL string) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(imageURL))
	seed := h.Sum64()

	v := make([]float64, DescriptorLength)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float64(seed%2000)/1000 - 1 // [-1, 1)
	}
	return v
}
