package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"escrow-backend/internal/utils"
)

// HTTPVaultClient reads the conversion ratio from a remote rate source and
// converts at the fetched ratio. The ratio is sampled on every call; no
// snapshotting across operations.
type HTTPVaultClient struct {
	httpClient *http.Client
	baseURL    string
	address    common.Address
}

// NewHTTPVaultClient creates a vault client against a remote rate source
func NewHTTPVaultClient(baseURL string, address common.Address, timeout time.Duration) *HTTPVaultClient {
	return &HTTPVaultClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		address: address,
	}
}

// ratioResponse rate source API response
type ratioResponse struct {
	Ratio string `json:"ratio"`
}

func (c *HTTPVaultClient) CurrentRatio(ctx context.Context) (*big.Int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ratio", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ratio request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vault ratio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rate source returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed ratioResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode ratio response: %w", err)
	}

	ratio, ok := new(big.Int).SetString(parsed.Ratio, 10)
	if !ok || ratio.Sign() <= 0 {
		return nil, fmt.Errorf("rate source returned invalid ratio %q", parsed.Ratio)
	}
	return ratio, nil
}

func (c *HTTPVaultClient) DepositUnderlying(ctx context.Context, amount *big.Int) (*big.Int, error) {
	ratio, err := c.CurrentRatio(ctx)
	if err != nil {
		return nil, err
	}
	return utils.ConvertToShares(amount, ratio), nil
}

func (c *HTTPVaultClient) RedeemShares(ctx context.Context, shares *big.Int) (*big.Int, error) {
	ratio, err := c.CurrentRatio(ctx)
	if err != nil {
		return nil, err
	}
	return utils.ConvertToUnderlying(shares, ratio), nil
}

func (c *HTTPVaultClient) Address() common.Address {
	return c.address
}

// StaticVault fixed-ratio vault for dev mode and tests. The ratio is
// mutable so yield can be simulated between opt-in and opt-out.
type StaticVault struct {
	mu      sync.RWMutex
	ratio   *big.Int
	address common.Address
}

// NewStaticVault creates a vault with a fixed shares-per-underlying ratio
// (1e18 scale).
func NewStaticVault(ratio *big.Int, address common.Address) *StaticVault {
	return &StaticVault{
		ratio:   new(big.Int).Set(ratio),
		address: address,
	}
}

// SetRatio replaces the conversion ratio.
func (v *StaticVault) SetRatio(ratio *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ratio = new(big.Int).Set(ratio)
}

func (v *StaticVault) CurrentRatio(ctx context.Context) (*big.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.ratio), nil
}

func (v *StaticVault) DepositUnderlying(ctx context.Context, amount *big.Int) (*big.Int, error) {
	ratio, _ := v.CurrentRatio(ctx)
	return utils.ConvertToShares(amount, ratio), nil
}

func (v *StaticVault) RedeemShares(ctx context.Context, shares *big.Int) (*big.Int, error) {
	ratio, _ := v.CurrentRatio(ctx)
	return utils.ConvertToUnderlying(shares, ratio), nil
}

func (v *StaticVault) Address() common.Address {
	return v.address
}
