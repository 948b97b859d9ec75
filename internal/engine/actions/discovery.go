package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

const catalogPath = "/api/v1/actions"

// connectorAction is one advertised action in a connector's catalog.
type connectorAction struct {
	ActionType      string                 `json:"actionType"`
	Enabled         bool                   `json:"enabled"`
	ParameterSchema map[string]interface{} `json:"parameterSchema,omitempty"`
	OutputSchema    map[string]interface{} `json:"outputSchema,omitempty"`
}

// DiscoverConnectors queries each connector's catalog endpoint and registers
// the advertised action types as remote handlers. A connector that cannot be
// reached is logged and skipped so one flaky connector does not block
// startup; its actions surface later as publish-time catalog errors.
func DiscoverConnectors(ctx context.Context, r *Registry, client *http.Client, connectors map[string]string) {
	for connectorID, url := range connectors {
		registered, err := discoverConnector(ctx, r, client, connectorID, url)
		if err != nil {
			log.Warn().Err(err).
				Str("connector_id", connectorID).
				Msg("Connector discovery failed")
			continue
		}
		log.Info().
			Str("connector_id", connectorID).
			Int("actions", registered).
			Msg("Connector actions registered")
	}
}

func discoverConnector(ctx context.Context, r *Registry, client *http.Client, connectorID, url string) (int, error) {
	endpoint := strings.TrimSuffix(url, "/") + catalogPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build catalog request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("catalog returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	var catalog []connectorAction
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&catalog); err != nil {
		return 0, fmt.Errorf("malformed catalog body: %w", err)
	}

	registered := 0
	for _, action := range catalog {
		if action.ActionType == "" {
			continue
		}
		err := r.Register(&Registration{
			ActionType:      action.ActionType,
			Enabled:         action.Enabled,
			Remote:          &RemoteDescriptor{ConnectorID: connectorID, EndpointURL: url},
			ParameterSchema: action.ParameterSchema,
			OutputSchema:    action.OutputSchema,
		})
		if err != nil {
			log.Warn().Err(err).
				Str("connector_id", connectorID).
				Str("action_type", action.ActionType).
				Msg("Skipping connector action")
			continue
		}
		registered++
	}
	return registered, nil
}
