package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewBookInput carries the fields for a catalog entry.
type NewBookInput struct {
	Title          string
	Author         string
	Description    string
	Category       string
	Photo          string
	ReleaseDateRaw string
	PriceCents     int64
	Stock          int
}

// UserChanges carries optional administrative edits to a user. Nil fields
// are left untouched; PasswordHash must already be hashed by the caller.
type UserChanges struct {
	Username     *string
	PasswordHash *string
	Role         *Role
}

// AddBook validates and creates a catalog entry.
func (service *Service) AddBook(ctx context.Context, actor Principal, input NewBookInput) (Book, error) {
	if err := requireAdministrator(actor); err != nil {
		return Book{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Book{}, fmt.Errorf("%w: title is required", ErrInvalidBookField)
	}
	author := strings.TrimSpace(input.Author)
	if author == "" {
		return Book{}, fmt.Errorf("%w: author is required", ErrInvalidBookField)
	}
	releaseDate, err := time.Parse(returnDateLayout, input.ReleaseDateRaw)
	if err != nil {
		return Book{}, fmt.Errorf("%w: use YYYY-MM-DD", ErrInvalidReleaseDate)
	}
	price, err := NewPriceCents(input.PriceCents)
	if err != nil {
		return Book{}, err
	}
	if input.Stock < 0 {
		return Book{}, fmt.Errorf("%w: must not be negative", ErrInvalidStock)
	}
	book := Book{
		Title:       title,
		Author:      author,
		Description: input.Description,
		Category:    input.Category,
		Photo:       input.Photo,
		ReleaseDate: releaseDate.UTC(),
		PriceCents:  price,
		Stock:       input.Stock,
	}
	bookID, err := service.store.CreateBook(ctx, book)
	if err != nil {
		return Book{}, err
	}
	book.ID = bookID
	return book, nil
}

// Books lists the catalog.
func (service *Service) Books(ctx context.Context) ([]Book, error) {
	return service.store.ListBooks(ctx)
}

// RegisterUser creates an account with an already-hashed credential.
func (service *Service) RegisterUser(ctx context.Context, actor Principal, username string, passwordHash string, role Role) (User, error) {
	if err := requireAdministrator(actor); err != nil {
		return User{}, err
	}
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return User{}, fmt.Errorf("%w: empty value", ErrInvalidUsername)
	}
	if _, err := ParseRole(role.String()); err != nil {
		return User{}, err
	}
	user := User{
		Username:     trimmed,
		PasswordHash: passwordHash,
		Role:         role,
	}
	userID, err := service.store.CreateUser(ctx, user)
	if err != nil {
		return User{}, err
	}
	user.ID = userID
	return user, nil
}

// EditUser applies administrative changes to another account. Editing the
// caller's own account is rejected.
func (service *Service) EditUser(ctx context.Context, actor Principal, targetID UserID, changes UserChanges) error {
	if err := requireAdministrator(actor); err != nil {
		return err
	}
	if actor.UserID == targetID {
		return ErrSelfEdit
	}
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		user, err := transactionStore.GetUser(ctx, targetID)
		if err != nil {
			return err
		}
		if changes.Username != nil {
			trimmed := strings.TrimSpace(*changes.Username)
			if trimmed == "" {
				return fmt.Errorf("%w: empty value", ErrInvalidUsername)
			}
			existing, err := transactionStore.GetUserByUsername(ctx, trimmed)
			switch {
			case err == nil && existing.ID != targetID:
				return ErrUsernameTaken
			case err != nil && !errors.Is(err, ErrUserNotFound):
				return err
			}
			user.Username = trimmed
		}
		if changes.PasswordHash != nil && *changes.PasswordHash != "" {
			user.PasswordHash = *changes.PasswordHash
		}
		if changes.Role != nil {
			role, err := ParseRole(changes.Role.String())
			if err != nil {
				return err
			}
			user.Role = role
		}
		return transactionStore.UpdateUser(ctx, user)
	})
}

// DeleteUser removes an account.
func (service *Service) DeleteUser(ctx context.Context, actor Principal, targetID UserID) error {
	if err := requireAdministrator(actor); err != nil {
		return err
	}
	if _, err := service.store.GetUser(ctx, targetID); err != nil {
		return err
	}
	return service.store.DeleteUser(ctx, targetID)
}

// Users lists every account for administrative review.
func (service *Service) Users(ctx context.Context, actor Principal) ([]User, error) {
	if err := requireAdministrator(actor); err != nil {
		return nil, err
	}
	return service.store.ListUsers(ctx)
}

// UserByUsername resolves a user for credential verification.
func (service *Service) UserByUsername(ctx context.Context, username string) (User, error) {
	return service.store.GetUserByUsername(ctx, username)
}
