// Package users stores backend accounts.
package users

import (
	"context"

	"github.com/pixelartvj/officesync/internal/server/models"
)

type Repository interface {
	// Create fills in the id and creation time. A taken email gives
	// common.ErrUserAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByEmail and GetByID return common.ErrorNotFound for unknown users.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}
