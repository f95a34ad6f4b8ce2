package library

import (
	"fmt"
	"strings"
	"time"
)

// AmountCents is an integer currency amount in cents.
type AmountCents int64

// BookID identifies a catalog entry.
type BookID int64

// UserID identifies a registered user.
type UserID int64

// BorrowID identifies a borrow record.
type BorrowID int64

// SaleID identifies a sale record.
type SaleID int64

// PhoneNumber is a payer phone number normalized to the 12-digit
// "254XXXXXXXXX" form expected by the payment provider.
type PhoneNumber struct {
	value string
}

// Role defines the authorization level of a user.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// BorrowStatus defines the borrow lifecycle.
type BorrowStatus string

const (
	BorrowStatusPending        BorrowStatus = "pending"
	BorrowStatusAwaitingPickup BorrowStatus = "awaiting_pickup"
	BorrowStatusPickedUp       BorrowStatus = "picked up"
	BorrowStatusReturned       BorrowStatus = "returned"
)

// SaleStatus carries the payment state of a sale. Values other than
// SaleStatusPending originate from the payment provider and are not
// validated against a closed set.
type SaleStatus string

// SaleStatusPending is the only status assigned locally; everything else
// arrives through the provider callback.
const SaleStatusPending SaleStatus = "pending"

// Principal is the authenticated caller of a service operation.
type Principal struct {
	UserID UserID
	Role   Role
}

// Book is a catalog entry.
type Book struct {
	ID          BookID
	Title       string
	Author      string
	Description string
	Category    string
	Photo       string
	ReleaseDate time.Time
	PriceCents  AmountCents
	Stock       int
}

// User is a registered account.
type User struct {
	ID           UserID
	Username     string
	PasswordHash string
	Role         Role
}

// Borrow is a borrow record moving through the borrow lifecycle.
type Borrow struct {
	ID               BorrowID
	UserID           UserID
	BookID           BookID
	BorrowDate       time.Time
	ReturnDate       *time.Time
	Status           BorrowStatus
	BorrowPriceCents AmountCents
	Instructions     string
}

// Sale is a paid checkout awaiting provider confirmation.
type Sale struct {
	ID              SaleID
	UserID          UserID
	BookID          BookID
	PhoneNumber     PhoneNumber
	AmountCents     AmountCents
	Status          SaleStatus
	ProviderPayload string
	CreatedAt       time.Time
}

// MonthlySales aggregates sale amounts per calendar month ("YYYY-MM").
type MonthlySales struct {
	Month      string
	TotalCents AmountCents
}

// NewBookID validates a book identifier.
func NewBookID(raw int64) (BookID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidBookID)
	}
	return BookID(raw), nil
}

// NewUserID validates a user identifier.
func NewUserID(raw int64) (UserID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidUserID)
	}
	return UserID(raw), nil
}

// NewBorrowID validates a borrow identifier.
func NewBorrowID(raw int64) (BorrowID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidBorrowID)
	}
	return BorrowID(raw), nil
}

// NewSaleID validates a sale identifier.
func NewSaleID(raw int64) (SaleID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidSaleID)
	}
	return SaleID(raw), nil
}

// NewPriceCents validates a book price. Prices must be positive and a
// multiple of five cents so the 20% borrow deposit is always an exact
// cent amount.
func NewPriceCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPriceCents)
	}
	if raw%5 != 0 {
		return 0, fmt.Errorf("%w: must be a multiple of five cents", ErrInvalidPriceCents)
	}
	return AmountCents(raw), nil
}

// DepositCents returns the 20% borrow deposit for a price.
func (amount AmountCents) DepositCents() AmountCents {
	return amount / 5
}

// WholeUnits converts cents to whole currency units, rounding up so a
// charge always covers the price.
func (amount AmountCents) WholeUnits() int64 {
	return (int64(amount) + 99) / 100
}

// Int64 returns the raw cent amount.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// ParseRole validates a role string.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return Role(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
}

// String returns the role value.
func (role Role) String() string {
	return string(role)
}

// CanAdminister reports whether the role grants administrative access.
func (role Role) CanAdminister() bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

// ParseBorrowStatus validates a borrow status string.
func ParseBorrowStatus(raw string) (BorrowStatus, error) {
	switch BorrowStatus(raw) {
	case BorrowStatusPending, BorrowStatusAwaitingPickup, BorrowStatusPickedUp, BorrowStatusReturned:
		return BorrowStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBorrowStatus, raw)
}

// String returns the status value.
func (status BorrowStatus) String() string {
	return string(status)
}

// NewSaleStatus accepts any non-empty status string. Provider statuses are
// treated as opaque tags.
func NewSaleStatus(raw string) (SaleStatus, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidSaleStatus)
	}
	return SaleStatus(trimmed), nil
}

// String returns the status value.
func (status SaleStatus) String() string {
	return string(status)
}

// NewPhoneNumber normalizes a raw phone number to the provider form:
// a leading "+254" or "0" is stripped, "254" is prepended when missing,
// and the result must be exactly twelve digits.
func NewPhoneNumber(raw string) (PhoneNumber, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return PhoneNumber{}, fmt.Errorf("%w: empty value", ErrInvalidPhoneNumber)
	}
	switch {
	case strings.HasPrefix(normalized, "+254"):
		normalized = normalized[4:]
	case strings.HasPrefix(normalized, "0"):
		normalized = normalized[1:]
	}
	if !strings.HasPrefix(normalized, "254") {
		normalized = "254" + normalized
	}
	if len(normalized) != 12 {
		return PhoneNumber{}, fmt.Errorf("%w: must be twelve digits including the 254 prefix", ErrInvalidPhoneNumber)
	}
	for _, character := range normalized {
		if character < '0' || character > '9' {
			return PhoneNumber{}, fmt.Errorf("%w: must contain digits only", ErrInvalidPhoneNumber)
		}
	}
	return PhoneNumber{value: normalized}, nil
}

// String returns the normalized number.
func (phone PhoneNumber) String() string {
	return phone.value
}

// IsZero reports whether the number is unset.
func (phone PhoneNumber) IsZero() bool {
	return phone.value == ""
}
