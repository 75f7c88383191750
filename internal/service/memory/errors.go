package memory

import "errors"

var (
	errUserExists           = errors.New("User already exists")
	errPrimaryAdmin         = errors.New("Cannot delete the main admin account")
	errPrimaryAdminChange   = errors.New("Cannot rename or demote the main admin account")
	errMissingExpenseFields = errors.New("Please provide description, amount and category")
)
