// Package validation provides composable validators for knowledge entries,
// returning structured ValidationError/ConfigError failures that the store
// pipeline surfaces at its boundary rather than letting panic or a bare
// driver error escape the core.
package validation

import (
	"fmt"

	"github.com/agenr/memory/internal/types"
)

// EntryValidator validates an entry and returns an error if validation
// fails. Validators compose via Chain; the first failing validator stops
// the chain, matching the teacher's issue-validator idiom.
type EntryValidator func(e *types.Entry) error

// Chain composes multiple validators into one, executed in order.
func Chain(validators ...EntryValidator) EntryValidator {
	return func(e *types.Entry) error {
		for _, v := range validators {
			if err := v(e); err != nil {
				return err
			}
		}
		return nil
	}
}

// Exists validates that e is not nil.
func Exists() EntryValidator {
	return func(e *types.Entry) error {
		if e == nil {
			return types.NewError(types.KindValidationError, fmt.Errorf("entry is nil"))
		}
		return nil
	}
}

// HasValidType validates Entry.Type against the recognized enum.
func HasValidType() EntryValidator {
	return func(e *types.Entry) error {
		if e == nil {
			return nil
		}
		if !e.Type.Valid() {
			return types.NewError(types.KindValidationError, fmt.Errorf("invalid entry type %q", e.Type))
		}
		return nil
	}
}

// HasValidExpiry validates Entry.Expiry against the recognized enum,
// defaulting an empty value to permanent (the wire format marks expiry
// optional only in the sense that callers may omit scope and platform;
// expiry itself always has a value by the time it reaches validation).
func HasValidExpiry() EntryValidator {
	return func(e *types.Entry) error {
		if e == nil {
			return nil
		}
		if e.Expiry == "" {
			e.Expiry = types.ExpiryPermanent
			return nil
		}
		if !e.Expiry.Valid() {
			return types.NewError(types.KindValidationError, fmt.Errorf("invalid expiry %q", e.Expiry))
		}
		return nil
	}
}

// HasValidScope defaults an unset Scope to private and validates any
// explicit value.
func HasValidScope() EntryValidator {
	return func(e *types.Entry) error {
		if e == nil {
			return nil
		}
		if e.Scope == "" {
			e.Scope = types.ScopePrivate
			return nil
		}
		if !e.Scope.Valid() {
			return types.NewError(types.KindValidationError, fmt.Errorf("invalid scope %q", e.Scope))
		}
		return nil
	}
}

// ImportanceInRange defaults an unset (zero) importance to 7 and validates
// the 1..10 range.
func ImportanceInRange() EntryValidator {
	return func(e *types.Entry) error {
		if e == nil {
			return nil
		}
		if e.Importance == 0 {
			e.Importance = 7
			return nil
		}
		if e.Importance < 1 || e.Importance > 10 {
			return types.NewError(types.KindValidationError, fmt.Errorf("importance %d out of range [1,10]", e.Importance))
		}
		return nil
	}
}

// NonEmptySubjectAndContent rejects entries with a blank subject or
// content, which would otherwise embed to a degenerate vector.
func NonEmptySubjectAndContent() EntryValidator {
	return func(e *types.Entry) error {
		if e == nil {
			return nil
		}
		if e.Subject == "" {
			return types.NewError(types.KindValidationError, fmt.Errorf("entry subject is empty"))
		}
		if e.Content == "" {
			return types.NewError(types.KindValidationError, fmt.Errorf("entry content is empty"))
		}
		return nil
	}
}

// SubjectKeyLowercase validates that a present subject_key parses under
// either the current or legacy form; it does not rewrite the stored value
// (see DESIGN.md, Open Question 1).
func SubjectKeyLowercase() EntryValidator {
	return func(e *types.Entry) error {
		if e == nil || e.SubjectKey == nil {
			return nil
		}
		if _, ok := types.ParseSubjectKey(*e.SubjectKey); !ok {
			return types.NewError(types.KindValidationError, fmt.Errorf("subject_key %q does not parse as entity/attribute or legacy person:X|attr:Y", *e.SubjectKey))
		}
		return nil
	}
}

// ForIngest returns the validator chain run on every incoming entry before
// it reaches the dedup classifier.
func ForIngest() EntryValidator {
	return Chain(
		Exists(),
		HasValidType(),
		HasValidExpiry(),
		HasValidScope(),
		ImportanceInRange(),
		NonEmptySubjectAndContent(),
		SubjectKeyLowercase(),
	)
}
