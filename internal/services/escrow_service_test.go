package services

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"escrow-backend/internal/clients"
	"escrow-backend/internal/models"
	"escrow-backend/internal/repository"
	"escrow-backend/internal/utils"
)

var (
	custodyAddr = common.HexToAddress("0xC0DE000000000000000000000000000000000001")
	vaultAddr   = common.HexToAddress("0xC0DE000000000000000000000000000000000002")
	alice       = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob         = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

type escrowHarness struct {
	escrow *EscrowService
	token  *clients.LedgerToken
	vault  *clients.StaticVault
}

// newEscrowHarness wires the service against the in-memory token book and a
// fixed-ratio vault (1e18 scale).
func newEscrowHarness(t *testing.T, ratio *big.Int) *escrowHarness {
	t.Helper()

	token := clients.NewLedgerToken(custodyAddr)
	vault := clients.NewStaticVault(ratio, vaultAddr)
	escrow := NewEscrowService(repository.NewMemoryAccountRepository(), repository.NewMemoryEventRepository())
	if err := escrow.Initialize(token, vault); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return &escrowHarness{escrow: escrow, token: token, vault: vault}
}

func (h *escrowHarness) account(t *testing.T, user common.Address) *models.UserAccount {
	t.Helper()
	account, err := h.escrow.Account(context.Background(), user)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	return account
}

func ratioTimes(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), utils.RatioScale)
}

func TestInitializeTwice(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	err := h.escrow.Initialize(h.token, h.vault)
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Initialize = %v, want ErrAlreadyInitialized", err)
	}
}

func TestInitializeRejectsZeroVault(t *testing.T) {
	escrow := NewEscrowService(repository.NewMemoryAccountRepository(), repository.NewMemoryEventRepository())
	zero := clients.NewStaticVault(utils.RatioScale, common.Address{})
	err := escrow.Initialize(clients.NewLedgerToken(custodyAddr), zero)
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("Initialize with zero vault = %v, want ErrInvalidAddress", err)
	}
}

func TestDepositCreditsUnderlying(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	h.token.Mint(alice, big.NewInt(1000))

	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(400)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	account := h.account(t, alice)
	if account.UnderlyingBalance != "400" {
		t.Fatalf("underlying = %s, want 400", account.UnderlyingBalance)
	}
	if account.OptStatus != models.OptStatusOptedOut {
		t.Fatalf("opt status changed by deposit: %s", account.OptStatus)
	}
	if got := h.token.BalanceOf(custodyAddr); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("custody balance = %s, want 400", got)
	}
	if got := h.token.BalanceOf(alice); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("alice balance = %s, want 600", got)
	}
}

func TestDepositZeroAmount(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	err := h.escrow.Deposit(context.Background(), alice, big.NewInt(0))
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("Deposit(0) = %v, want ErrInvalidAmount", err)
	}
}

func TestDepositNegativeAmount(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	h.token.Mint(custodyAddr, big.NewInt(1000))

	err := h.escrow.Deposit(context.Background(), alice, big.NewInt(-100))
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("Deposit(-100) = %v, want ErrInvalidAmount", err)
	}

	// A negative amount inverts the transfer direction, nothing may move
	if got := h.token.BalanceOf(custodyAddr); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("custody balance = %s after rejected deposit, want 1000", got)
	}
	if got := h.token.BalanceOf(alice); got.Sign() != 0 {
		t.Fatalf("alice received %s from rejected deposit", got)
	}
	account := h.account(t, alice)
	if account.UnderlyingBalance != "0" || account.ShareBalance != "0" {
		t.Fatalf("balances changed after rejected deposit: %+v", account)
	}
}

func TestWithdrawRejectsNonPositiveAmount(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	h.token.Mint(alice, big.NewInt(100))
	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-50)} {
		if err := h.escrow.Withdraw(context.Background(), alice, amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("Withdraw(%v) = %v, want ErrInvalidAmount", amount, err)
		}
	}
	if account := h.account(t, alice); account.UnderlyingBalance != "100" {
		t.Fatalf("underlying = %s after rejected withdrawals, want 100", account.UnderlyingBalance)
	}
}

func TestDepositTokenFailureLeavesStateUntouched(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	// alice holds nothing, the pull must fail
	err := h.escrow.Deposit(context.Background(), alice, big.NewInt(100))
	if !errors.Is(err, ErrTokenTransferFailed) {
		t.Fatalf("Deposit = %v, want ErrTokenTransferFailed", err)
	}
	account := h.account(t, alice)
	if account.UnderlyingBalance != "0" || account.ShareBalance != "0" {
		t.Fatalf("balances changed after failed deposit: %+v", account)
	}
}

func TestWithdrawOptedOut(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	h.token.Mint(alice, big.NewInt(500))
	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(500)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if err := h.escrow.Withdraw(context.Background(), alice, big.NewInt(200)); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	account := h.account(t, alice)
	if account.UnderlyingBalance != "300" {
		t.Fatalf("underlying = %s, want 300", account.UnderlyingBalance)
	}
	if got := h.token.BalanceOf(alice); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("alice balance = %s, want 200", got)
	}
}

func TestWithdrawMoreThanBalance(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	h.token.Mint(alice, big.NewInt(100))
	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	err := h.escrow.Withdraw(context.Background(), alice, big.NewInt(101))
	if !errors.Is(err, ErrInsufficientUnderlyingBalance) {
		t.Fatalf("Withdraw = %v, want ErrInsufficientUnderlyingBalance", err)
	}
	if account := h.account(t, alice); account.UnderlyingBalance != "100" {
		t.Fatalf("underlying changed after rejected withdrawal: %s", account.UnderlyingBalance)
	}
}

func TestOptInConvertsFullBalance(t *testing.T) {
	h := newEscrowHarness(t, ratioTimes(2))
	h.token.Mint(alice, big.NewInt(100))
	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if err := h.escrow.OptIn(context.Background(), alice); err != nil {
		t.Fatalf("OptIn: %v", err)
	}

	account := h.account(t, alice)
	if account.OptStatus != models.OptStatusOptedIn {
		t.Fatalf("opt status = %s, want opted_in", account.OptStatus)
	}
	if account.UnderlyingBalance != "0" {
		t.Fatalf("underlying = %s, want 0 after opt-in", account.UnderlyingBalance)
	}
	if account.ShareBalance != "200" {
		t.Fatalf("shares = %s, want 200 at 2x ratio", account.ShareBalance)
	}
}

func TestOptInWithoutBalance(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	err := h.escrow.OptIn(context.Background(), alice)
	if !errors.Is(err, ErrInsufficientUnderlyingBalance) {
		t.Fatalf("OptIn = %v, want ErrInsufficientUnderlyingBalance", err)
	}
}

func TestOptInTwice(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	h.token.Mint(alice, big.NewInt(100))
	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := h.escrow.OptIn(context.Background(), alice); err != nil {
		t.Fatalf("OptIn: %v", err)
	}

	err := h.escrow.OptIn(context.Background(), alice)
	if !errors.Is(err, ErrAlreadyOptedIn) {
		t.Fatalf("second OptIn = %v, want ErrAlreadyOptedIn", err)
	}
}

func TestDepositWhileOptedInRoutesThroughVault(t *testing.T) {
	h := newEscrowHarness(t, ratioTimes(2))
	h.token.Mint(alice, big.NewInt(300))
	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := h.escrow.OptIn(context.Background(), alice); err != nil {
		t.Fatalf("OptIn: %v", err)
	}

	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(50)); err != nil {
		t.Fatalf("second Deposit: %v", err)
	}

	account := h.account(t, alice)
	if account.UnderlyingBalance != "0" {
		t.Fatalf("underlying = %s, want 0 while opted in", account.UnderlyingBalance)
	}
	// 100 at opt-in plus 50 deposited, both at 2x
	if account.ShareBalance != "300" {
		t.Fatalf("shares = %s, want 300", account.ShareBalance)
	}
	if account.OptStatus != models.OptStatusOptedIn {
		t.Fatalf("opt status = %s, want opted_in", account.OptStatus)
	}
}

func TestOptOutAfterYield(t *testing.T) {
	h := newEscrowHarness(t, ratioTimes(2))
	h.token.Mint(alice, big.NewInt(100))
	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := h.escrow.OptIn(context.Background(), alice); err != nil {
		t.Fatalf("OptIn: %v", err)
	}

	// Each share now redeems for twice as much underlying
	h.vault.SetRatio(utils.RatioScale)

	if err := h.escrow.OptOut(context.Background(), alice); err != nil {
		t.Fatalf("OptOut: %v", err)
	}

	account := h.account(t, alice)
	if account.OptStatus != models.OptStatusOptedOut {
		t.Fatalf("opt status = %s, want opted_out", account.OptStatus)
	}
	if account.ShareBalance != "0" {
		t.Fatalf("shares = %s, want 0 after opt-out", account.ShareBalance)
	}
	if account.UnderlyingBalance != "200" {
		t.Fatalf("underlying = %s, want 200 after yield", account.UnderlyingBalance)
	}
}

func TestOptOutNotOptedIn(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	err := h.escrow.OptOut(context.Background(), alice)
	if !errors.Is(err, ErrNotOptedIn) {
		t.Fatalf("OptOut = %v, want ErrNotOptedIn", err)
	}
}

func TestWithdrawOptedIn(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	h.token.Mint(alice, big.NewInt(100))
	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := h.escrow.OptIn(context.Background(), alice); err != nil {
		t.Fatalf("OptIn: %v", err)
	}

	if err := h.escrow.Withdraw(context.Background(), alice, big.NewInt(40)); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	account := h.account(t, alice)
	if account.ShareBalance != "60" {
		t.Fatalf("shares = %s, want 60", account.ShareBalance)
	}
	if got := h.token.BalanceOf(alice); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("alice balance = %s, want 40", got)
	}
}

func TestWithdrawOptedInInsufficientShares(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	h.token.Mint(alice, big.NewInt(100))
	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := h.escrow.OptIn(context.Background(), alice); err != nil {
		t.Fatalf("OptIn: %v", err)
	}

	err := h.escrow.Withdraw(context.Background(), alice, big.NewInt(101))
	if !errors.Is(err, ErrInsufficientShareBalance) {
		t.Fatalf("Withdraw = %v, want ErrInsufficientShareBalance", err)
	}
}

// slippageVault redeems short of the quoted conversion.
type slippageVault struct {
	*clients.StaticVault
	short *big.Int
}

func (v *slippageVault) RedeemShares(ctx context.Context, shares *big.Int) (*big.Int, error) {
	redeemed, err := v.StaticVault.RedeemShares(ctx, shares)
	if err != nil {
		return nil, err
	}
	return redeemed.Sub(redeemed, v.short), nil
}

func TestWithdrawOptedInSlippageGuard(t *testing.T) {
	token := clients.NewLedgerToken(custodyAddr)
	vault := &slippageVault{
		StaticVault: clients.NewStaticVault(utils.RatioScale, vaultAddr),
		short:       big.NewInt(1),
	}
	escrow := NewEscrowService(repository.NewMemoryAccountRepository(), repository.NewMemoryEventRepository())
	if err := escrow.Initialize(token, vault); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	token.Mint(alice, big.NewInt(100))
	if err := escrow.Deposit(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := escrow.OptIn(context.Background(), alice); err != nil {
		t.Fatalf("OptIn: %v", err)
	}

	err := escrow.Withdraw(context.Background(), alice, big.NewInt(50))
	if !errors.Is(err, ErrInsufficientConvertedAmountReceived) {
		t.Fatalf("Withdraw = %v, want ErrInsufficientConvertedAmountReceived", err)
	}

	account, err := escrow.Account(context.Background(), alice)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if account.ShareBalance != "100" {
		t.Fatalf("shares changed after rejected withdrawal: %s", account.ShareBalance)
	}
	if got := token.BalanceOf(alice); got.Sign() != 0 {
		t.Fatalf("alice received %s despite rejected withdrawal", got)
	}
}

func TestSetVaultRejectsZeroAddress(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	zero := clients.NewStaticVault(utils.RatioScale, common.Address{})
	err := h.escrow.SetVault(context.Background(), zero)
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("SetVault = %v, want ErrInvalidAddress", err)
	}
}

func TestSetVaultAffectsLaterConversions(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	h.token.Mint(alice, big.NewInt(100))
	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	replacement := clients.NewStaticVault(ratioTimes(3), common.HexToAddress("0xC0DE000000000000000000000000000000000003"))
	if err := h.escrow.SetVault(context.Background(), replacement); err != nil {
		t.Fatalf("SetVault: %v", err)
	}

	if err := h.escrow.OptIn(context.Background(), alice); err != nil {
		t.Fatalf("OptIn: %v", err)
	}
	if account := h.account(t, alice); account.ShareBalance != "300" {
		t.Fatalf("shares = %s, want 300 at replacement ratio", account.ShareBalance)
	}
}

func TestAccountsAreIndependent(t *testing.T) {
	h := newEscrowHarness(t, utils.RatioScale)
	h.token.Mint(alice, big.NewInt(100))
	h.token.Mint(bob, big.NewInt(100))
	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit alice: %v", err)
	}
	if err := h.escrow.Deposit(context.Background(), bob, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit bob: %v", err)
	}

	if err := h.escrow.OptIn(context.Background(), alice); err != nil {
		t.Fatalf("OptIn alice: %v", err)
	}

	bobAccount := h.account(t, bob)
	if bobAccount.OptStatus != models.OptStatusOptedOut || bobAccount.UnderlyingBalance != "100" {
		t.Fatalf("bob's account affected by alice's opt-in: %+v", bobAccount)
	}
}

func TestFullLifecycle(t *testing.T) {
	h := newEscrowHarness(t, ratioTimes(2))
	h.token.Mint(alice, big.NewInt(100))

	if err := h.escrow.Deposit(context.Background(), alice, big.NewInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := h.escrow.OptIn(context.Background(), alice); err != nil {
		t.Fatalf("OptIn: %v", err)
	}

	// Yield accrues, then funds arrive in custody to back it
	h.vault.SetRatio(utils.RatioScale)
	h.token.Mint(custodyAddr, big.NewInt(100))

	if err := h.escrow.OptOut(context.Background(), alice); err != nil {
		t.Fatalf("OptOut: %v", err)
	}
	if err := h.escrow.Withdraw(context.Background(), alice, big.NewInt(200)); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	if got := h.token.BalanceOf(alice); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("final alice balance = %s, want 200", got)
	}
	account := h.account(t, alice)
	if account.UnderlyingBalance != "0" || account.ShareBalance != "0" {
		t.Fatalf("account not drained: %+v", account)
	}
}
