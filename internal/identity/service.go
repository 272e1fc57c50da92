package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tradefin/walletledger/internal/ledger"
)

const minPasswordLength = 8

// WalletProvisioner opens the default wallet of a new user.
type WalletProvisioner interface {
	ProvisionWallet(ctx context.Context, userID, currency string) (ledger.Wallet, error)
}

// Service manages identity lifecycle.
type Service struct {
	repo    Repository
	wallets WalletProvisioner
}

// NewService creates a new identity service. wallets may be nil.
func NewService(repo Repository, wallets WalletProvisioner) *Service {
	return &Service{repo: repo, wallets: wallets}
}

// Register creates an active user with a hashed password and provisions its default wallet.
// The user is removed again when provisioning fails.
func (s *Service) Register(ctx context.Context, reg Registration) (User, ledger.Wallet, error) {
	if len(reg.Password) < minPasswordLength {
		return User{}, ledger.Wallet{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, ledger.Wallet{}, err
	}

	user := User{
		ID:           uuid.New().String(),
		Email:        normalizeEmail(reg.Email),
		FullName:     strings.TrimSpace(reg.FullName),
		CompanyName:  strings.TrimSpace(reg.CompanyName),
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, ledger.Wallet{}, err
	}

	var wallet ledger.Wallet
	if s.wallets != nil {
		wallet, err = s.wallets.ProvisionWallet(ctx, user.ID, reg.Currency)
		if err != nil {
			err = fmt.Errorf("provision wallet: %w", err)
			// Registration is all or nothing.
			if derr := s.repo.Delete(context.WithoutCancel(ctx), user.ID); derr != nil {
				err = errors.Join(err, fmt.Errorf("remove user after failed provisioning: %w", derr))
			}
			return User{}, ledger.Wallet{}, err
		}
	}
	return user, wallet, nil
}

// Authenticate verifies the email and password of an active user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !user.Active {
		return User{}, ErrInactive
	}
	return user, nil
}

// FindActive returns the user with id when the account is active.
func (s *Service) FindActive(ctx context.Context, id string) (User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !user.Active {
		return User{}, ErrInactive
	}
	return user, nil
}

// FindActiveByEmail resolves a transfer recipient. Unknown and inactive users are both
// reported as ledger.ErrRecipientNotFound.
func (s *Service) FindActiveByEmail(ctx context.Context, email string) (ledger.Recipient, error) {
	user, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return ledger.Recipient{}, ledger.ErrRecipientNotFound
	}
	if err != nil {
		return ledger.Recipient{}, err
	}
	if !user.Active {
		return ledger.Recipient{}, ledger.ErrRecipientNotFound
	}
	return ledger.Recipient{UserID: user.ID, Email: user.Email, DisplayName: user.DisplayName()}, nil
}

// Deactivate disables the account. It stops receiving transfers and its tokens are refused.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.repo.SetActive(ctx, id, false)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
