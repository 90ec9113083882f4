package moderation

import "fmt"

// ContentOptions configure ValidateContent for one field.
type ContentOptions struct {
	MaxLength      int
	MinLength      int
	CheckProfanity bool
	// FieldName appears in error messages ("review", "special request").
	// Defaults to "content".
	FieldName string
}

// ValidationResult accumulates human-readable errors for one field.
// IsValid is true iff Errors is empty.
type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// ValidateContent checks length bounds, profanity, and spam. The profanity
// error is generic on purpose: matched words never reach the caller.
func (m *Moderator) ValidateContent(text string, opts ContentOptions) ValidationResult {
	field := opts.FieldName
	if field == "" {
		field = "content"
	}

	var errs []string
	if opts.MinLength > 0 && len(text) < opts.MinLength {
		errs = append(errs, fmt.Sprintf("Your %s must be at least %d characters long", field, opts.MinLength))
	}
	if opts.MaxLength > 0 && len(text) > opts.MaxLength {
		errs = append(errs, fmt.Sprintf("Your %s must be no more than %d characters long", field, opts.MaxLength))
	}
	if opts.CheckProfanity && m.CheckProfanity(text).HasProfanity {
		errs = append(errs, fmt.Sprintf("Please review your %s for inappropriate language", field))
	}
	if m.IsSpam(text) {
		errs = append(errs, fmt.Sprintf("Your %s looks like spam", field))
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}
