package session

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/gram/internal/errs"
)

var (
	nameRegexp   = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)
	userIDRegexp = regexp.MustCompile(`^[A-Za-z0-9._@:-]{1,128}$`)
)

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w: session name %q must match ^[a-z0-9_-]{1,64}$", errs.ErrInvalidArgument, name)
	}
	return nil
}

// ValidateUserID checks the id a client session logs in as. Ids double as
// conversation keys, so whitespace and separators are rejected.
func ValidateUserID(id string) error {
	if !userIDRegexp.MatchString(id) {
		return fmt.Errorf("%w: user id %q", errs.ErrInvalidArgument, id)
	}
	return nil
}
