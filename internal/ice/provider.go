// Package ice supplies STUN/TURN server configuration to joining sessions.
package ice

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// FallbackSTUN is always present in a served config so a join can at least
// attempt server-reflexive connectivity.
const FallbackSTUN = "stun:stun.l.google.com:19302"

// Server is one STUN/TURN entry in wire form.
type Server struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Provider fetches ICE configuration per join. TURN credentials are
// short-lived, so results are never cached between joins; the static list
// from local config is the fallback when the endpoint is unreachable.
type Provider struct {
	client    *http.Client
	configURL string
	static    []Server
}

func NewProvider(configURL string, static []Server, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Provider{
		client:    &http.Client{Timeout: timeout},
		configURL: configURL,
		static:    static,
	}
}

// ServersForJoin returns the config for one join attempt.
func (p *Provider) ServersForJoin(ctx context.Context) []Server {
	servers := p.static
	if p.configURL != "" {
		if fetched, err := p.fetch(ctx); err != nil {
			log.Warn().Err(err).Str("module", "ice").Msg("config fetch failed, using static servers")
		} else {
			servers = fetched
		}
	}
	return EnsureSTUN(servers)
}

func (p *Provider) fetch(ctx context.Context) ([]Server, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.configURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// The endpoint serves either a bare list or an {"iceServers": [...]}
	// wrapper; accept both.
	var wrapped struct {
		IceServers []Server `json:"iceServers"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.IceServers) > 0 {
		return wrapped.IceServers, nil
	}
	var bare []Server
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, err
	}
	return bare, nil
}

// EnsureSTUN guarantees at least one STUN entry in the list.
func EnsureSTUN(servers []Server) []Server {
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "stun:") {
				return servers
			}
		}
	}
	return append([]Server{{URLs: []string{FallbackSTUN}}}, servers...)
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return "ice config endpoint returned " + http.StatusText(e.code)
}
