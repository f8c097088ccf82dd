package video

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Meeting is the provider-side room attached to a confirmed session.
type Meeting struct {
	Ref     string `json:"ref"`
	JoinURL string `json:"join_url"`
}

// Client is the consumed video-provider contract. The HTTP implementation
// talks to whatever conferencing backend VIDEO_API_URL points at.
type Client interface {
	CreateMeeting(topic string, start, end time.Time) (*Meeting, error)
	EndMeeting(ref string) error
	DeleteMeeting(ref string) error
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient() Client {
	return &httpClient{
		baseURL: os.Getenv("VIDEO_API_URL"),
		apiKey:  os.Getenv("VIDEO_API_KEY"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *httpClient) CreateMeeting(topic string, start, end time.Time) (*Meeting, error) {
	payload := map[string]interface{}{
		"topic":      topic,
		"start_time": start.UTC().Format(time.RFC3339),
		"end_time":   end.UTC().Format(time.RFC3339),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest("POST", c.baseURL+"/meetings", bytes.NewBuffer(payloadBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("video provider returned status %d", resp.StatusCode)
	}

	var meeting Meeting
	if err := json.NewDecoder(resp.Body).Decode(&meeting); err != nil {
		return nil, err
	}
	if meeting.Ref == "" {
		return nil, fmt.Errorf("video provider returned no meeting ref")
	}
	return &meeting, nil
}

// EndMeeting kicks remaining participants out of a running room. A room the
// provider no longer knows about counts as ended.
func (c *httpClient) EndMeeting(ref string) error {
	req, err := http.NewRequest("POST", c.baseURL+"/meetings/"+ref+"/end", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("video provider returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *httpClient) DeleteMeeting(ref string) error {
	req, err := http.NewRequest("DELETE", c.baseURL+"/meetings/"+ref, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// A room the provider no longer knows about is already cleaned up.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("video provider returned status %d", resp.StatusCode)
	}
	return nil
}
