package memory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs struct tag validation and folds field errors into a
// single Validation error.
func ValidateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, formatFieldError(fe))
			}
			return &Error{Kind: KindValidation, Message: strings.Join(msgs, "; ")}
		}
		return &Error{Kind: KindValidation, Message: err.Error()}
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// Validate checks symbol format, tier bounds, score ranges and tag shape.
func (n *Node) Validate() error {
	if _, err := ParseSymbol(n.Symbol); err != nil {
		return err
	}
	if err := ValidateStruct(n); err != nil {
		return err
	}
	for _, t := range n.Tags {
		if t.Key == "" {
			return Validationf("tag %q has an empty key", t.String())
		}
		if strings.ContainsAny(t.Key, ":,") {
			return Validationf("tag key %q may not contain ':' or ','", t.Key)
		}
		if strings.Contains(t.Value, ",") {
			return Validationf("tag value %q may not contain ','", t.Value)
		}
	}
	for i := range n.Relationships {
		if err := n.Relationships[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
