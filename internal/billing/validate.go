package billing

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator checks notification shape before any routing happens.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(notificationRules, Notification{})
	return &Validator{validate: v}
}

// Validate reports whether n is well formed. The error describes the first
// problem found and wraps ErrPayloadMalformed.
func (v *Validator) Validate(n *Notification) (bool, error) {
	if n == nil {
		return false, fmt.Errorf("%w: empty notification", ErrPayloadMalformed)
	}
	if err := v.validate.Struct(n); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return false, fmt.Errorf("%w: field %s failed %q", ErrPayloadMalformed, verrs[0].Namespace(), verrs[0].Tag())
		}
		return false, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	return true, nil
}

func notificationRules(sl validator.StructLevel) {
	n := sl.Current().Interface().(Notification)
	if n.Data == nil {
		return
	}
	switch EventType(n.Type) {
	case EventPayment, EventAuthorizedPayment:
		if n.Data.ID == "" {
			sl.ReportError(n.Data.ID, "Data.ID", "ID", "required", "")
		}
		if n.Data.Status == "" {
			sl.ReportError(n.Data.Status, "Data.Status", "Status", "required", "")
		}
	case EventCancelled, EventSuspended:
		if n.Data.ID == "" {
			sl.ReportError(n.Data.ID, "Data.ID", "ID", "required", "")
		}
	}
}
