package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates Config using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateUpstreamMutualExclusion(); err != nil {
		return err
	}
	if err := c.validatePolicyRulePriorities(); err != nil {
		return err
	}

	return nil
}

// validateUpstreamMutualExclusion ensures at most one of HTTP or Command is
// set, and that exactly one is set since this gateway always fronts a
// single upstream.
func (c *Config) validateUpstreamMutualExclusion() error {
	hasHTTP := c.Upstream.HTTP != ""
	hasCommand := c.Upstream.Command != ""

	if hasHTTP && hasCommand {
		return errors.New("upstream: specify http OR command, not both")
	}
	if !hasHTTP && !hasCommand {
		return errors.New("upstream: one of http or command is required")
	}
	return nil
}

// validatePolicyRulePriorities rejects duplicate priorities, which would
// make custom-rule evaluation order ambiguous.
func (c *Config) validatePolicyRulePriorities() error {
	seen := make(map[int]string, len(c.Policy.Rules))
	for _, rule := range c.Policy.Rules {
		if existing, ok := seen[rule.Priority]; ok {
			return fmt.Errorf("policy.rules: %q and %q share priority %d", existing, rule.Name, rule.Priority)
		}
		seen[rule.Priority] = rule.Name
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "required_if":
		return fmt.Sprintf("%s is required for this configuration", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
