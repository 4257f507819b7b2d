package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// connectorSpec is the YAML shape of one configured connector.
type connectorSpec struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"`
	Name       string `yaml:"name"`
	Deprecated bool   `yaml:"deprecated"`
	Endpoint   string `yaml:"endpoint"`
	Token      string `yaml:"token"`
}

type inventoryFile struct {
	Connectors []connectorSpec `yaml:"connectors"`
}

// FileRegistry is a Registry backed by a YAML inventory file. Execute
// bridges the generic envelope to the connector's endpoint as a JSON POST;
// the endpoint is expected to answer with a tagged Result.
type FileRegistry struct {
	specs  []connectorSpec
	client *http.Client
	log    *slog.Logger
}

// LoadFileRegistry reads the connector inventory from path.
func LoadFileRegistry(path string, log *slog.Logger) (*FileRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connector inventory: %w", err)
	}

	var inv inventoryFile
	if err := yaml.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("parse connector inventory %s: %w", path, err)
	}

	for i, spec := range inv.Connectors {
		if spec.ID == "" || spec.Type == "" {
			return nil, fmt.Errorf("connector inventory %s: entry %d missing id or type", path, i)
		}
	}

	return &FileRegistry{
		specs:  inv.Connectors,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}, nil
}

func (r *FileRegistry) List(ctx context.Context) ([]Connector, error) {
	out := make([]Connector, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, Connector{
			ID:             spec.ID,
			Type:           spec.Type,
			Name:           spec.Name,
			Deprecated:     spec.Deprecated,
			MissingSecrets: spec.Token == "",
			Config:         map[string]string{"endpoint": spec.Endpoint},
		})
	}
	return out, nil
}

func (r *FileRegistry) Execute(ctx context.Context, params ExecuteParams) (*Result, error) {
	spec, ok := r.lookup(params.ConnectorID)
	if !ok {
		return nil, fmt.Errorf("unknown connector id: %s", params.ConnectorID)
	}

	body, err := json.Marshal(map[string]any{
		"sub_action": params.SubAction,
		"params":     params.SubActionParams,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if spec.Token != "" {
		req.Header.Set("Authorization", "Bearer "+spec.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connector %s execute: %w", spec.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("connector %s read response: %w", spec.ID, err)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		if resp.StatusCode >= 300 {
			return &Result{
				Status:  StatusError,
				Message: fmt.Sprintf("connector returned HTTP %d", resp.StatusCode),
			}, nil
		}
		return nil, fmt.Errorf("connector %s decode response: %w", spec.ID, err)
	}

	r.log.Debug("connector execute",
		"connector_id", spec.ID,
		"sub_action", params.SubAction,
		"status", result.Status)

	return &result, nil
}

func (r *FileRegistry) lookup(id string) (connectorSpec, bool) {
	for _, spec := range r.specs {
		if spec.ID == id {
			return spec, true
		}
	}
	return connectorSpec{}, false
}
