package validator

import "strings"

// FieldError is one failed rule, reported under the field's JSON name.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// ValidationErrors lists every failed rule of a request.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

// Error joins the messages with "; ".
func (v *ValidationErrors) Error() string {
	if !v.HasErrors() {
		return ""
	}
	msgs := make([]string, len(v.Errors))
	for i := range v.Errors {
		msgs[i] = v.Errors[i].Message
	}
	return strings.Join(msgs, "; ")
}

func (v *ValidationErrors) HasErrors() bool { return v != nil && len(v.Errors) > 0 }

// First returns the first message or "".
func (v *ValidationErrors) First() string {
	if !v.HasErrors() {
		return ""
	}
	return v.Errors[0].Message
}
