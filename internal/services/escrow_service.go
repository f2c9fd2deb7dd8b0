package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"escrow-backend/internal/interfaces"
	"escrow-backend/internal/metrics"
	"escrow-backend/internal/models"
	"escrow-backend/internal/repository"
	"escrow-backend/internal/utils"
)

// EventSink receives ledger events as they are emitted (websocket push,
// NATS publication). Sinks must not block.
type EventSink interface {
	Publish(event *models.LedgerEvent)
}

// EscrowService per-user balance book over the underlying asset and the
// derived vault share asset. The mutex serializes balance reads and writes
// and is released around every token and vault call. Outbound debits are
// committed before the external transfer runs and restored if it fails, so
// a reentrant call always observes committed state.
type EscrowService struct {
	mu          sync.Mutex
	initialized bool
	token       interfaces.AssetTransferor
	vault       interfaces.Vault
	accounts    repository.AccountRepository
	events      repository.EventRepository
	sinks       []EventSink
}

// NewEscrowService creates an uninitialized escrow service. Initialize must
// be called exactly once before use.
func NewEscrowService(accounts repository.AccountRepository, events repository.EventRepository) *EscrowService {
	return &EscrowService{
		accounts: accounts,
		events:   events,
	}
}

// Initialize binds the asset transfer primitive and the vault. A second
// call fails with ErrAlreadyInitialized.
func (s *EscrowService) Initialize(token interfaces.AssetTransferor, vault interfaces.Vault) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return ErrAlreadyInitialized
	}
	if token == nil || vault == nil || vault.Address() == (common.Address{}) {
		return ErrInvalidAddress
	}
	s.token = token
	s.vault = vault
	s.initialized = true
	return nil
}

// AddSink registers an event sink.
func (s *EscrowService) AddSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Deposit pulls amount of underlying from the caller into custody and
// credits their balance. An opted-in caller's deposit is routed straight
// into the vault so the balance-exclusivity invariant holds. Does not change
// opt status.
func (s *EscrowService) Deposit(ctx context.Context, user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		metrics.EscrowOperationErrors.WithLabelValues("deposit").Inc()
		return ErrInvalidAmount
	}

	s.mu.Lock()
	account, err := s.loadOrNewAccount(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	useVault := account.OptStatus == models.OptStatusOptedIn
	s.mu.Unlock()

	if err := s.token.TransferIn(ctx, user, amount); err != nil {
		metrics.EscrowOperationErrors.WithLabelValues("deposit").Inc()
		logrus.WithFields(logrus.Fields{
			"user":   user.Hex(),
			"amount": amount.String(),
		}).WithError(err).Warn("Deposit transfer failed")
		return fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
	}

	credit := amount
	if useVault {
		shares, err := s.vault.DepositUnderlying(ctx, amount)
		if err != nil {
			// Nothing was credited; return the pulled tokens
			if rerr := s.token.TransferOut(ctx, user, amount); rerr != nil {
				logrus.WithFields(logrus.Fields{
					"user":   user.Hex(),
					"amount": amount.String(),
				}).WithError(rerr).Error("Failed to refund deposit after vault failure")
			}
			return fmt.Errorf("vault deposit failed: %w", err)
		}
		credit = shares
	}

	s.mu.Lock()
	account, err = s.loadOrNewAccount(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if useVault {
		shareBalance, perr := utils.ParseAmount(account.ShareBalance)
		if perr != nil {
			s.mu.Unlock()
			return perr
		}
		account.ShareBalance = utils.FormatAmount(new(big.Int).Add(shareBalance, credit))
	} else {
		underlying, perr := utils.ParseAmount(account.UnderlyingBalance)
		if perr != nil {
			s.mu.Unlock()
			return perr
		}
		account.UnderlyingBalance = utils.FormatAmount(new(big.Int).Add(underlying, credit))
	}
	if err := s.saveAccount(ctx, account); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	metrics.EscrowDepositsTotal.Inc()
	s.emit(ctx, &models.LedgerEvent{
		Type:   models.EventTypeDeposit,
		User:   user.Hex(),
		Amount: amount.String(),
	})
	return nil
}

// Withdraw returns amount of underlying asset to the caller. For an
// opted-in caller the amount is converted to shares at the current ratio
// and redeemed through the vault, guarding against redemption slippage.
// The emitted event amount is always denominated in underlying.
func (s *EscrowService) Withdraw(ctx context.Context, user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		metrics.EscrowOperationErrors.WithLabelValues("withdraw").Inc()
		return ErrInvalidAmount
	}

	s.mu.Lock()
	account, err := s.loadOrNewAccount(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	optStatus := account.OptStatus
	s.mu.Unlock()

	if optStatus == models.OptStatusOptedIn {
		err = s.withdrawOptedIn(ctx, user, amount)
	} else {
		err = s.withdrawOptedOut(ctx, user, amount)
	}
	if err != nil {
		metrics.EscrowOperationErrors.WithLabelValues("withdraw").Inc()
		return err
	}

	metrics.EscrowWithdrawalsTotal.WithLabelValues(string(optStatus)).Inc()
	s.emit(ctx, &models.LedgerEvent{
		Type:   models.EventTypeWithdraw,
		User:   user.Hex(),
		Amount: amount.String(),
	})
	return nil
}

func (s *EscrowService) withdrawOptedOut(ctx context.Context, user common.Address, amount *big.Int) error {
	s.mu.Lock()
	account, err := s.loadOrNewAccount(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	underlying, err := utils.ParseAmount(account.UnderlyingBalance)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if amount.Cmp(underlying) > 0 {
		s.mu.Unlock()
		return ErrInsufficientUnderlyingBalance
	}
	account.UnderlyingBalance = utils.FormatAmount(new(big.Int).Sub(underlying, amount))
	if err := s.saveAccount(ctx, account); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if err := s.token.TransferOut(ctx, user, amount); err != nil {
		s.creditUnderlying(ctx, user, amount)
		return fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
	}
	return nil
}

func (s *EscrowService) withdrawOptedIn(ctx context.Context, user common.Address, amount *big.Int) error {
	ratio, err := s.vault.CurrentRatio(ctx)
	if err != nil {
		return fmt.Errorf("failed to read vault ratio: %w", err)
	}
	sharesNeeded := utils.ConvertToShares(amount, ratio)

	s.mu.Lock()
	account, err := s.loadOrNewAccount(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	shareBalance, err := utils.ParseAmount(account.ShareBalance)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if sharesNeeded.Cmp(shareBalance) > 0 {
		s.mu.Unlock()
		return ErrInsufficientShareBalance
	}
	account.ShareBalance = utils.FormatAmount(new(big.Int).Sub(shareBalance, sharesNeeded))
	if err := s.saveAccount(ctx, account); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	redeemed, err := s.vault.RedeemShares(ctx, sharesNeeded)
	if err != nil {
		s.creditShares(ctx, user, sharesNeeded)
		return fmt.Errorf("vault redemption failed: %w", err)
	}
	if redeemed.Cmp(amount) < 0 {
		s.creditShares(ctx, user, sharesNeeded)
		return ErrInsufficientConvertedAmountReceived
	}

	if err := s.token.TransferOut(ctx, user, redeemed); err != nil {
		s.creditShares(ctx, user, sharesNeeded)
		return fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
	}
	return nil
}

// OptIn deposits the caller's entire underlying balance into the vault at
// the current ratio and switches them to the share representation.
func (s *EscrowService) OptIn(ctx context.Context, user common.Address) error {
	s.mu.Lock()
	account, err := s.loadOrNewAccount(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if account.OptStatus == models.OptStatusOptedIn {
		s.mu.Unlock()
		metrics.EscrowOperationErrors.WithLabelValues("opt_in").Inc()
		return ErrAlreadyOptedIn
	}
	underlying, err := utils.ParseAmount(account.UnderlyingBalance)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if underlying.Sign() == 0 {
		s.mu.Unlock()
		metrics.EscrowOperationErrors.WithLabelValues("opt_in").Inc()
		return ErrInsufficientUnderlyingBalance
	}
	account.UnderlyingBalance = "0"
	if err := s.saveAccount(ctx, account); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	shares, err := s.vault.DepositUnderlying(ctx, underlying)
	if err != nil {
		s.creditUnderlying(ctx, user, underlying)
		return fmt.Errorf("vault deposit failed: %w", err)
	}

	s.mu.Lock()
	account, err = s.loadOrNewAccount(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	shareBalance, err := utils.ParseAmount(account.ShareBalance)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	total := new(big.Int).Add(shareBalance, shares)
	account.ShareBalance = utils.FormatAmount(total)
	account.OptStatus = models.OptStatusOptedIn
	if err := s.saveAccount(ctx, account); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	metrics.EscrowOptTransitionsTotal.WithLabelValues("in").Inc()
	s.emit(ctx, &models.LedgerEvent{
		Type:   models.EventTypeOptIn,
		User:   user.Hex(),
		Amount: utils.FormatAmount(shares),
		Data:   eventData(map[string]string{"underlying_after": "0", "shares_after": utils.FormatAmount(total)}),
	})
	return nil
}

// OptOut redeems the caller's entire share balance from the vault at the
// current ratio and switches them back to the underlying representation.
func (s *EscrowService) OptOut(ctx context.Context, user common.Address) error {
	s.mu.Lock()
	account, err := s.loadOrNewAccount(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if account.OptStatus != models.OptStatusOptedIn {
		s.mu.Unlock()
		metrics.EscrowOperationErrors.WithLabelValues("opt_out").Inc()
		return ErrNotOptedIn
	}
	shares, err := utils.ParseAmount(account.ShareBalance)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if shares.Sign() == 0 {
		s.mu.Unlock()
		metrics.EscrowOperationErrors.WithLabelValues("opt_out").Inc()
		return ErrNotOptedIn
	}
	account.ShareBalance = "0"
	if err := s.saveAccount(ctx, account); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	redeemed, err := s.vault.RedeemShares(ctx, shares)
	if err != nil {
		s.creditShares(ctx, user, shares)
		return fmt.Errorf("vault redemption failed: %w", err)
	}

	s.mu.Lock()
	account, err = s.loadOrNewAccount(ctx, user)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	underlying, err := utils.ParseAmount(account.UnderlyingBalance)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	account.UnderlyingBalance = utils.FormatAmount(new(big.Int).Add(underlying, redeemed))
	account.OptStatus = models.OptStatusOptedOut
	if err := s.saveAccount(ctx, account); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	metrics.EscrowOptTransitionsTotal.WithLabelValues("out").Inc()
	s.emit(ctx, &models.LedgerEvent{
		Type:   models.EventTypeOptOut,
		User:   user.Hex(),
		Amount: utils.FormatAmount(redeemed),
		Data: eventData(map[string]string{
			"shares_before":    utils.FormatAmount(shares),
			"underlying_after": utils.FormatAmount(redeemed),
		}),
	})
	return nil
}

// SetVault swaps the vault reference. Authorization is enforced by the
// admin middleware; the zero address is rejected here.
func (s *EscrowService) SetVault(ctx context.Context, newVault interfaces.Vault) error {
	if newVault == nil || newVault.Address() == (common.Address{}) {
		return ErrInvalidAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.vault
	s.vault = newVault

	oldHex := ""
	if old != nil {
		oldHex = old.Address().Hex()
	}
	logrus.WithFields(logrus.Fields{
		"old_vault": oldHex,
		"new_vault": newVault.Address().Hex(),
	}).Info("Vault reference updated")

	s.emit(ctx, &models.LedgerEvent{
		Type: models.EventTypeVaultUpdated,
		Data: eventData(map[string]string{"old": oldHex, "new": newVault.Address().Hex()}),
	})
	return nil
}

// Account returns the caller's account, or a zero-balance view if none
// exists yet.
func (s *EscrowService) Account(ctx context.Context, user common.Address) (*models.UserAccount, error) {
	account, err := s.accounts.GetByAddress(ctx, user.Hex())
	if err != nil {
		return nil, err
	}
	if account == nil {
		return &models.UserAccount{
			Address:           user.Hex(),
			UnderlyingBalance: "0",
			ShareBalance:      "0",
			OptStatus:         models.OptStatusOptedOut,
		}, nil
	}
	return account, nil
}

func (s *EscrowService) loadOrNewAccount(ctx context.Context, user common.Address) (*models.UserAccount, error) {
	account, err := s.accounts.GetByAddress(ctx, user.Hex())
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &models.UserAccount{
			Address:           user.Hex(),
			UnderlyingBalance: "0",
			ShareBalance:      "0",
			OptStatus:         models.OptStatusOptedOut,
		}
	}
	return account, nil
}

func (s *EscrowService) saveAccount(ctx context.Context, account *models.UserAccount) error {
	if account.ID == 0 {
		return s.accounts.Create(ctx, account)
	}
	return s.accounts.Save(ctx, account)
}

// creditUnderlying restores a committed underlying debit after a failed
// external step.
func (s *EscrowService) creditUnderlying(ctx context.Context, user common.Address, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.loadOrNewAccount(ctx, user)
	if err == nil {
		var underlying *big.Int
		if underlying, err = utils.ParseAmount(account.UnderlyingBalance); err == nil {
			account.UnderlyingBalance = utils.FormatAmount(new(big.Int).Add(underlying, amount))
			err = s.saveAccount(ctx, account)
		}
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user":   user.Hex(),
			"amount": amount.String(),
		}).WithError(err).Error("Failed to restore underlying balance")
	}
}

// creditShares restores a committed share debit after a failed external step.
func (s *EscrowService) creditShares(ctx context.Context, user common.Address, shares *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, err := s.loadOrNewAccount(ctx, user)
	if err == nil {
		var shareBalance *big.Int
		if shareBalance, err = utils.ParseAmount(account.ShareBalance); err == nil {
			account.ShareBalance = utils.FormatAmount(new(big.Int).Add(shareBalance, shares))
			err = s.saveAccount(ctx, account)
		}
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user":   user.Hex(),
			"shares": shares.String(),
		}).WithError(err).Error("Failed to restore share balance")
	}
}

func (s *EscrowService) emit(ctx context.Context, event *models.LedgerEvent) {
	if err := s.events.Append(ctx, event); err != nil {
		logrus.WithError(err).Warn("Failed to persist ledger event")
	}
	for _, sink := range s.sinks {
		sink.Publish(event)
	}
}

func eventData(fields map[string]string) string {
	data, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(data)
}
