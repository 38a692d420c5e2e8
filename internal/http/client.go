package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// FetchCluster consulta GET /v1/cluster de un nodo.
func FetchCluster(ctx context.Context, c *http.Client, baseURL string) (*ClusterStatus, error) {
	var out ClusterStatus
	if err := getJSON(ctx, c, strings.TrimRight(baseURL, "/")+"/v1/cluster", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchPolicies consulta GET /v1/policies de un nodo.
func FetchPolicies(ctx context.Context, c *http.Client, baseURL string) ([]PolicyStatus, error) {
	var out []PolicyStatus
	if err := getJSON(ctx, c, strings.TrimRight(baseURL, "/")+"/v1/policies", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func getJSON(ctx context.Context, c *http.Client, url string, v any) error {
	if c == nil {
		c = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e apiError
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("GET %s: %d %s", url, resp.StatusCode, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
