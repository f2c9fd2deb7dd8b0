package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20ABI = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

// ERC20TokenClient moves an on-chain ERC-20 token in and out of the
// service's custody account. A reverted transaction surfaces as an error;
// funds are never silently consumed.
type ERC20TokenClient struct {
	client       *ethclient.Client
	tokenABI     abi.ABI
	tokenAddress common.Address
	custody      common.Address
	operatorKey  *ecdsa.PrivateKey
	chainID      *big.Int
}

// NewERC20TokenClient dials the RPC endpoint and prepares the operator
// signer. operatorKeyHex is the custody account's private key.
func NewERC20TokenClient(rpcURL string, tokenAddress common.Address, operatorKeyHex string) (*ERC20TokenClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", rpcURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator key: %w", err)
	}

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}

	return &ERC20TokenClient{
		client:       client,
		tokenABI:     parsed,
		tokenAddress: tokenAddress,
		custody:      crypto.PubkeyToAddress(key.PublicKey),
		operatorKey:  key,
		chainID:      chainID,
	}, nil
}

// Custody returns the custody account address.
func (c *ERC20TokenClient) Custody() common.Address {
	return c.custody
}

func (c *ERC20TokenClient) TransferIn(ctx context.Context, from common.Address, amount *big.Int) error {
	calldata, err := c.tokenABI.Pack("transferFrom", from, c.custody, amount)
	if err != nil {
		return fmt.Errorf("failed to pack transferFrom: %w", err)
	}
	return c.execute(ctx, calldata)
}

func (c *ERC20TokenClient) TransferOut(ctx context.Context, to common.Address, amount *big.Int) error {
	calldata, err := c.tokenABI.Pack("transfer", to, amount)
	if err != nil {
		return fmt.Errorf("failed to pack transfer: %w", err)
	}
	return c.execute(ctx, calldata)
}

// BalanceOf reads the token balance of an address.
func (c *ERC20TokenClient) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	calldata, err := c.tokenABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		From: c.custody,
		To:   &c.tokenAddress,
		Data: calldata,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	values, err := c.tokenABI.Unpack("balanceOf", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf return type")
	}
	return balance, nil
}

func (c *ERC20TokenClient) execute(ctx context.Context, calldata []byte) error {
	nonce, err := c.client.PendingNonceAt(ctx, c.custody)
	if err != nil {
		return fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch gas price: %w", err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &c.tokenAddress,
		Gas:      100_000,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(c.chainID), c.operatorKey)
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("failed to send transaction: %w", err)
	}

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("token transaction %s reverted", signed.Hash().Hex())
	}
	return nil
}

func (c *ERC20TokenClient) waitMined(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// LedgerToken in-process token book for dev mode and tests. Implements the
// same transfer semantics as the on-chain client: a failed transfer leaves
// every balance untouched.
type LedgerToken struct {
	mu       sync.Mutex
	custody  common.Address
	balances map[common.Address]*big.Int
}

// NewLedgerToken creates an empty token book with the given custody address
func NewLedgerToken(custody common.Address) *LedgerToken {
	return &LedgerToken{
		custody:  custody,
		balances: make(map[common.Address]*big.Int),
	}
}

// Mint credits an address out of thin air (dev/test only).
func (t *LedgerToken) Mint(account common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] = new(big.Int).Add(t.balanceLocked(account), amount)
}

// BalanceOf returns the current balance of an address.
func (t *LedgerToken) BalanceOf(account common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balanceLocked(account))
}

func (t *LedgerToken) TransferIn(ctx context.Context, from common.Address, amount *big.Int) error {
	return t.move(from, t.custody, amount)
}

func (t *LedgerToken) TransferOut(ctx context.Context, to common.Address, amount *big.Int) error {
	return t.move(t.custody, to, amount)
}

func (t *LedgerToken) move(from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	balance := t.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient token balance: have %s, need %s", balance, amount)
	}
	t.balances[from] = new(big.Int).Sub(balance, amount)
	t.balances[to] = new(big.Int).Add(t.balanceLocked(to), amount)
	return nil
}

func (t *LedgerToken) balanceLocked(account common.Address) *big.Int {
	if balance, ok := t.balances[account]; ok {
		return balance
	}
	return big.NewInt(0)
}
