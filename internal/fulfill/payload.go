// Package fulfill maps a completed (intent, slots) pair onto the payload
// shape the provisioning API expects for that intent.
package fulfill

import (
	"errors"
	"fmt"

	"github.com/rayadhanush/infrapilot-kb/internal/knowledge"
	"github.com/rayadhanush/infrapilot-kb/internal/session"
)

// ErrUnknownIntent reports an intent with no payload specification. It is
// a configuration bug: the registry and the payload table must agree.
var ErrUnknownIntent = errors.New("fulfill: no payload spec for intent")

// FieldMapping binds one collected slot to its downstream field name.
type FieldMapping struct {
	Slot  string
	Field string
}

// Spec describes how one intent's payload is assembled. UserField, when
// set, names the payload field that receives the caller's user id. The
// downstream API is inconsistent here ("username" for most operations,
// "user_id" for ECS creation) so the field name is per-intent data, not
// a constant.
type Spec struct {
	UserField string
	Fields    []FieldMapping
}

// specs is the declarative payload table. Field names are the downstream
// API's wire contract verbatim; ec_instance_name is spelled exactly as
// the API expects it.
var specs = map[string]Spec{
	"Create an EC2 instance": {
		UserField: "username",
		Fields: []FieldMapping{
			{Slot: "Instance Name", Field: "ec_instance_name"},
			{Slot: "Instance Type", Field: "ec2_instance_type"},
			{Slot: "Ami ID", Field: "ec2_ami_id"},
		},
	},
	"Search or Get your EC2 instances": {
		UserField: "username",
	},
	"Delete your EC2 instance": {
		Fields: []FieldMapping{
			{Slot: "Resource Name", Field: "resource_name"},
		},
	},
	"Create an RDS Database Instance": {
		UserField: "username",
		Fields: []FieldMapping{
			{Slot: "DB Name", Field: "db_name"},
			{Slot: "DB Engine", Field: "db_engine"},
			{Slot: "Instance Class", Field: "instance_class"},
			{Slot: "DB Storage", Field: "db_storage"},
		},
	},
	"Get your exisitng RDS Database instances": {
		UserField: "username",
	},
	"Delete your RDS instance": {
		Fields: []FieldMapping{
			{Slot: "Resource Name", Field: "resource_name"},
		},
	},
	"Create an ECS Cluster": {
		UserField: "user_id",
		Fields: []FieldMapping{
			{Slot: "Github URL", Field: "github_url"},
			{Slot: "Number of Instances", Field: "number_of_instances"},
			{Slot: "Docker Image Name", Field: "docker_image_name"},
			{Slot: "Container Port", Field: "container_port"},
			{Slot: "Cluster Name", Field: "cluster_name"},
			{Slot: "Healthcheck Endpoint", Field: "healthcheck_endpoint"},
			{Slot: "CPU (in CPU units)", Field: "cpu"},
			{Slot: "Memory (in MB)", Field: "memory"},
		},
	},
	"Get your exisitng ECS Clusters": {
		UserField: "username",
	},
	"Delete an ECS Cluster": {
		Fields: []FieldMapping{
			{Slot: "Resource Name", Field: "resource_name"},
		},
	},
}

// BuildPayload assembles the downstream request body for intent from the
// collected slot values. Slot values are passed through verbatim; the
// downstream API accepts everything as strings.
func BuildPayload(intent, userID string, slots session.Slots) (map[string]any, error) {
	spec, ok := specs[intent]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, intent)
	}

	payload := make(map[string]any, len(spec.Fields)+1)
	if spec.UserField != "" {
		payload[spec.UserField] = userID
	}
	for _, fm := range spec.Fields {
		value, ok := slots.Value(fm.Slot)
		if !ok {
			return nil, fmt.Errorf("fulfill: intent %q: slot %q not filled", intent, fm.Slot)
		}
		payload[fm.Field] = value
	}
	return payload, nil
}

// Validate cross-checks the payload table against the template catalog:
// every templated intent (except the free-form one, which carries its own
// payload shape) must have a spec, and every mapped slot must appear in
// the template's required slots. Called once at startup.
func Validate(templates []knowledge.Template, freeFormIntent string) error {
	byIntent := make(map[string][]string, len(templates))
	for _, tpl := range templates {
		byIntent[tpl.Intent] = tpl.RequiredSlots
	}

	for _, tpl := range templates {
		if tpl.Intent == freeFormIntent {
			continue
		}
		if _, ok := specs[tpl.Intent]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownIntent, tpl.Intent)
		}
	}

	for intent, spec := range specs {
		required, ok := byIntent[intent]
		if !ok {
			return fmt.Errorf("fulfill: payload spec for %q has no template", intent)
		}
		known := make(map[string]bool, len(required))
		for _, name := range required {
			known[name] = true
		}
		for _, fm := range spec.Fields {
			if !known[fm.Slot] {
				return fmt.Errorf("fulfill: intent %q maps slot %q not in required slots", intent, fm.Slot)
			}
		}
	}
	return nil
}
