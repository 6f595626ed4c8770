// Package validate implements the inbound event validator (C2): schema and
// classification checks ahead of sealing, grounded on the teacher's
// pkg/validation (go-playground/validator/v10 with registered custom
// rules) but stripped of the teacher's gin/HTTP binding — this platform's
// edge is the queue producer API, not a REST handler.
package validate

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/auditrail/auditrail/internal/config"
	"github.com/auditrail/auditrail/internal/domain/event"
	aerrors "github.com/auditrail/auditrail/internal/errors"
)

const maxDetailsBytes = 64 * 1024

var actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

var forbiddenDetailKeys = []string{"hash", "signature"}

// eventSchema is the subset of Event's critical fields that struct-tag
// rules can express; everything conditional (organizationId's
// action-dependent requirement, details' size/content rules) is checked
// by hand below since go-playground/validator tags can't see a sibling
// field's value the way requiresOrganization does.
type eventSchema struct {
	Action             string `validate:"required,audit_action"`
	Status             string `validate:"required,oneof=attempt success failure"`
	DataClassification string `validate:"required,oneof=PUBLIC INTERNAL CONFIDENTIAL PHI"`
	PrincipalID        string `validate:"required"`
	CorrelationID      string `validate:"max=256"`
}

// structFieldToName maps eventSchema's Go field names back to the
// camelCase field paths aerrors.Validation reports, since v10 reports
// struct field names, not json tags, in ValidationErrors.
var structFieldToName = map[string]string{
	"Action":             "action",
	"Status":             "status",
	"DataClassification": "dataClassification",
	"PrincipalID":        "principalId",
	"CorrelationID":      "correlationId",
}

// Validator validates producer-supplied events before sealing, the way the
// teacher's Validator wraps go-playground/validator with domain-specific
// rules registered on construction.
type Validator struct {
	v        *validator.Validate
	policies map[event.DataClassification]string
}

// New builds a Validator, indexing retention.policies by classification so
// retentionPolicy can be resolved when a producer omits it (§4.1).
func New(cfg *config.RetentionConfig) *Validator {
	v := validator.New()
	v.RegisterValidation("audit_action", validateAction)

	policies := make(map[event.DataClassification]string, len(cfg.Policies))
	for _, p := range cfg.Policies {
		if p.IsActive {
			policies[event.DataClassification(p.DataClassification)] = p.Name
		}
	}
	return &Validator{v: v, policies: policies}
}

func validateAction(fl validator.FieldLevel) bool {
	return actionPattern.MatchString(fl.Field().String())
}

// Validate checks e against §4.1's rules, mutating e.RetentionPolicy in
// place when the producer left it unset, and returns a VALIDATION_ERROR
// naming every offending field path in one pass (fail-fast per event, not
// per field, but exhaustive within the event).
func (val *Validator) Validate(e *event.Event) error {
	var fields []string

	schema := eventSchema{
		Action:             e.Action,
		Status:             string(e.Status),
		DataClassification: string(e.DataClassification),
		PrincipalID:        e.PrincipalID,
		CorrelationID:      e.CorrelationID,
	}
	if err := val.v.Struct(schema); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				if name, ok := structFieldToName[fe.StructField()]; ok {
					fields = append(fields, name)
				}
			}
		} else {
			return aerrors.Wrap(aerrors.KindValidation, "validate", err)
		}
	}

	if requiresOrganization(e.Action) && e.OrganizationID == "" {
		fields = append(fields, "organizationId")
	}

	if e.Details != nil {
		if size, err := jsonSize(e.Details); err != nil {
			fields = append(fields, "details")
		} else if size > maxDetailsBytes {
			fields = append(fields, "details")
		}
		if hasForbiddenKey(e.Details) {
			fields = append(fields, "details")
		}
	}

	if len(fields) > 0 {
		return aerrors.Validation("validate", "event failed schema validation", dedupe(fields)...)
	}

	if e.RetentionPolicy == "" {
		if name, ok := val.policies[e.DataClassification]; ok {
			e.RetentionPolicy = name
		}
	}

	return nil
}

// requiresOrganization mirrors §3.1's "required for tenant-scoped actions":
// every action except the small set of platform/system actions must carry
// a tenant.
func requiresOrganization(action string) bool {
	return !strings.HasPrefix(action, "system.")
}

func jsonSize(v interface{}) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func hasForbiddenKey(details map[string]interface{}) bool {
	for k := range details {
		lower := strings.ToLower(k)
		for _, forbidden := range forbiddenDetailKeys {
			if lower == forbidden {
				return true
			}
		}
		if strings.Contains(lower, "secret") {
			return true
		}
	}
	return false
}

func dedupe(fields []string) []string {
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
