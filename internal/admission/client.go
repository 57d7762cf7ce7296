// Package admission calls the scheduling collaborator that authorizes a
// participant into a scheduled session.
package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/ice"
)

// Grant is the scheduling service's answer to a join request.
type Grant struct {
	RoomID        string       `json:"roomId"`
	ParticipantID string       `json:"participantId"`
	IceServers    []ice.Server `json:"iceServers"`
}

// Client talks to POST {base}/sessions/{id}/join. Any non-2xx response maps
// to AdmissionDenied; the caller never sees transport-level detail.
type Client struct {
	base   string
	client *http.Client
}

func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{base: base, client: &http.Client{Timeout: timeout}}
}

// Join requests admission for a scheduled session.
func (c *Client) Join(ctx context.Context, sessionID string) (*Grant, error) {
	url := fmt.Sprintf("%s/sessions/%s/join", c.base, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAdmissionDenied, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAdmissionDenied, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Str("module", "admission").Str("session", sessionID).
			Int("status", resp.StatusCode).Msg("admission refused")
		return nil, fmt.Errorf("%w: status %d", core.ErrAdmissionDenied, resp.StatusCode)
	}

	var g Grant
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return nil, fmt.Errorf("%w: bad grant payload: %v", core.ErrAdmissionDenied, err)
	}
	return &g, nil
}
