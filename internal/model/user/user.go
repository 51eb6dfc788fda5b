package user

import (
	"context"
	"time"
)

// User is a customer identified by phone number.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"nome"`
	Phone     string    `json:"telefone"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store resolves and creates users.
type Store interface {
	CreateUser(ctx context.Context, name, phone string) (User, error)
	FindByPhone(ctx context.Context, phone string) (User, error)
}
