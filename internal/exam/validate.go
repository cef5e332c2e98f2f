package exam

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateTest checks the structural rules a TestDefinition must satisfy
// before the engine accepts it.
func ValidateTest(t TestDefinition) error {
	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidTest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidTest, err)
	}

	seen := make(map[string]struct{}, len(t.Questions))
	for _, q := range t.Questions {
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidTest, q.ID)
		}
		seen[q.ID] = struct{}{}
		if err := validateQuestion(q); err != nil {
			return err
		}
	}
	return nil
}

func validateQuestion(q Question) error {
	if !q.Type.IsChoice() {
		if len(q.Options) > 0 {
			return fmt.Errorf("%w: question %s of type %s cannot have options", ErrInvalidTest, q.ID, q.Type)
		}
		return nil
	}

	ids := make(map[string]struct{}, len(q.Options))
	for _, o := range q.Options {
		if _, dup := ids[o.ID]; dup {
			return fmt.Errorf("%w: question %s has duplicate option id %q", ErrInvalidTest, q.ID, o.ID)
		}
		ids[o.ID] = struct{}{}
	}

	correct := len(q.CorrectOptionIDs())
	switch q.Type {
	case SingleChoice, TrueFalse:
		if correct != 1 {
			return fmt.Errorf("%w: question %s needs exactly one correct option, has %d", ErrInvalidTest, q.ID, correct)
		}
	case MultipleChoice:
		if correct < 1 {
			return fmt.Errorf("%w: question %s needs at least one correct option", ErrInvalidTest, q.ID)
		}
	}
	return nil
}
