// Package validation содержит правила валидации входных данных.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	phonePattern    = regexp.MustCompile(`^\+?[0-9][0-9\s()\-]{5,19}$`)
	documentPattern = regexp.MustCompile(`^[A-Za-z0-9\-]+$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// FieldRule описывает ограничения одного поля формы.
type FieldRule struct {
	Required  bool
	MinLength int
	Pattern   *regexp.Regexp
}

// ClientRules — таблица правил для полей карточки клиента.
var ClientRules = map[string]FieldRule{
	"name":      {Required: true, MinLength: 2},
	"last_name": {Required: true, MinLength: 2},
	"phone":     {Required: true, Pattern: phonePattern},
	"document":  {Required: true, Pattern: documentPattern},
	"email":     {Pattern: emailPattern},
}

// DescriptionRule — правило для описания корректировки баллов.
var DescriptionRule = FieldRule{Required: true, MinLength: 5}

// FieldError описывает нарушение правила для конкретного поля.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// CheckField проверяет значение против правила и возвращает описание нарушения.
func CheckField(field, value string, rule FieldRule) *FieldError {
	value = strings.TrimSpace(value)

	if value == "" {
		if rule.Required {
			return &FieldError{Field: field, Reason: "required"}
		}
		return nil
	}

	if rule.MinLength > 0 && utf8.RuneCountInString(value) < rule.MinLength {
		return &FieldError{Field: field, Reason: fmt.Sprintf("must be at least %d characters", rule.MinLength)}
	}

	if rule.Pattern != nil && !rule.Pattern.MatchString(value) {
		return &FieldError{Field: field, Reason: "invalid format"}
	}

	return nil
}

// CheckClientFields проверяет набор полей клиента по таблице ClientRules.
// Порядок ошибок стабилен для детерминированных ответов API.
func CheckClientFields(fields map[string]string) []FieldError {
	order := []string{"name", "last_name", "phone", "document", "email"}

	var errs []FieldError
	for _, field := range order {
		rule, ok := ClientRules[field]
		if !ok {
			continue
		}
		if ferr := CheckField(field, fields[field], rule); ferr != nil {
			errs = append(errs, *ferr)
		}
	}
	return errs
}

// CheckDescription проверяет описание корректировки баллов.
func CheckDescription(value string) *FieldError {
	return CheckField("description", value, DescriptionRule)
}
