package repository

import (
	"errors"
	"fmt"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
)

// Sentinel kinds for ledger errors.
var (
	ErrNotFound      = fmt.Errorf("offer %w", failure.ErrNotFound)
	ErrUnknownDriver = errors.New("unknown ledger driver")
)
