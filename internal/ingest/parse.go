// Package ingest consumes completed provisioning output from the result
// queue, classifies it by resource type, and persists per-resource
// records for the notifications endpoint.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rayadhanush/infrapilot-kb/internal/session"
)

// Resource is one classified entry from a provisioning run, attributed
// back to the user and session that requested it.
type Resource struct {
	DeploymentID string
	Name         string
	Type         string
	Value        string
	Sensitive    bool
	UserID       string
	SessionID    string

	// Type-specific fields, empty when not applicable.
	IPAddress string
	DNSName   string
	Endpoint  string
	Username  string
	Password  string
}

type terraformOutput struct {
	Value     any  `json:"value"`
	Sensitive bool `json:"sensitive"`
}

// ParseOutput extracts resources from a raw provisioning pipeline message.
// The message wraps terraform's JSON output in CI debug markers with
// percent-encoded newlines and spaces; only output keys present in the
// key mappings are kept.
func ParseOutput(raw string, mappings map[string]session.Mapping) ([]Resource, error) {
	if idx := strings.Index(raw, "::debug::stdout:"); idx >= 0 {
		raw = raw[idx+len("::debug::stdout:"):]
		if end := strings.Index(raw, "::debug::stderr:"); end >= 0 {
			raw = raw[:end]
		}
		raw = strings.TrimSpace(raw)
	}
	raw = strings.ReplaceAll(raw, "%0A", "\n")
	raw = strings.ReplaceAll(raw, "%20", " ")

	var outputs map[string]terraformOutput
	if err := json.Unmarshal([]byte(raw), &outputs); err != nil {
		return nil, fmt.Errorf("parsing provisioning output: %w", err)
	}

	var resources []Resource
	for key, out := range outputs {
		mapping, ok := mappings[key]
		if !ok {
			continue
		}
		res := classify(key, valueString(out.Value))
		res.DeploymentID = key
		res.Name = key
		res.Sensitive = res.Sensitive || out.Sensitive
		res.UserID = mapping.UserID
		res.SessionID = mapping.SessionID
		resources = append(resources, res)
	}
	return resources, nil
}

// classify determines the resource type from keywords in the output key
// and fills the type-specific fields.
func classify(key, value string) Resource {
	res := Resource{Type: "unknown", Value: value}
	lower := strings.ToLower(key)

	switch {
	case strings.Contains(lower, "ec2"):
		res.Type = "ec2"
		if strings.Contains(lower, "ip") {
			res.IPAddress = value
		}

	case strings.Contains(lower, "ecs"):
		res.Type = "ecs"
		if strings.Contains(lower, "dns") || strings.Contains(lower, "alb") {
			res.DNSName = value
		}

	case strings.Contains(lower, "rds"):
		res.Type = "rds"
		endpoint, username, password := parseRDSValue(value)
		res.Endpoint = endpoint
		res.Username = username
		res.Password = password
		res.Sensitive = username != "" || password != ""

	case strings.Contains(lower, "lb"), strings.Contains(lower, "loadbalancer"):
		res.Type = "loadbalancer"
		res.DNSName = value

	case strings.Contains(lower, "key"):
		res.Type = "ssh_key"
	}
	return res
}

// parseRDSValue splits an RDS output value "endpoint,username,password"
// into its parts; username and password are optional.
func parseRDSValue(value string) (endpoint, username, password string) {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	endpoint = parts[0]
	if len(parts) > 1 {
		username = parts[1]
	}
	if len(parts) > 2 {
		password = parts[2]
	}
	return endpoint, username, password
}

func valueString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}
