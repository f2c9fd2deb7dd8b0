package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"escrow-backend/internal/models"
)

// In-memory repository implementations backing the "memory" database driver
// and the package tests. State is process-local and lost on restart.

// memoryAccountRepository implements AccountRepository in memory
type memoryAccountRepository struct {
	mu       sync.RWMutex
	nextID   uint64
	accounts map[string]*models.UserAccount
}

// NewMemoryAccountRepository creates an in-memory AccountRepository
func NewMemoryAccountRepository() AccountRepository {
	return &memoryAccountRepository{accounts: make(map[string]*models.UserAccount)}
}

func (r *memoryAccountRepository) GetByAddress(ctx context.Context, address string) (*models.UserAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[address]
	if !ok {
		return nil, nil
	}
	clone := *account
	return &clone, nil
}

func (r *memoryAccountRepository) Create(ctx context.Context, account *models.UserAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	account.ID = r.nextID
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	clone := *account
	r.accounts[account.Address] = &clone
	return nil
}

func (r *memoryAccountRepository) Save(ctx context.Context, account *models.UserAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account.UpdatedAt = time.Now()
	clone := *account
	r.accounts[account.Address] = &clone
	return nil
}

func (r *memoryAccountRepository) List(ctx context.Context, page, limit int) ([]*models.UserAccount, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*models.UserAccount, 0, len(r.accounts))
	for _, account := range r.accounts {
		clone := *account
		all = append(all, &clone)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// memorySettlementRepository implements SettlementRepository in memory
type memorySettlementRepository struct {
	mu          sync.RWMutex
	nextID      uint64
	obligations map[string]*models.Obligation // keyed by message id
	processed   map[uint32]map[string]bool
}

// NewMemorySettlementRepository creates an in-memory SettlementRepository
func NewMemorySettlementRepository() SettlementRepository {
	return &memorySettlementRepository{
		obligations: make(map[string]*models.Obligation),
		processed:   make(map[uint32]map[string]bool),
	}
}

func (r *memorySettlementRepository) CreatePending(ctx context.Context, obligation *models.Obligation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	obligation.ID = r.nextID
	obligation.Status = models.ObligationStatusPending
	obligation.CreatedAt = time.Now()
	obligation.UpdatedAt = obligation.CreatedAt
	clone := *obligation
	r.obligations[obligation.MessageID] = &clone
	return nil
}

func (r *memorySettlementRepository) PendingByRecipient(ctx context.Context, nodeEid uint32, recipient string) (*models.Obligation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, obligation := range r.obligations {
		if obligation.NodeEid == nodeEid && obligation.Recipient == recipient &&
			obligation.Status == models.ObligationStatusPending {
			clone := *obligation
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memorySettlementRepository) GetByMessageID(ctx context.Context, nodeEid uint32, messageID string) (*models.Obligation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obligation, ok := r.obligations[messageID]
	if !ok || obligation.NodeEid != nodeEid {
		return nil, nil
	}
	clone := *obligation
	return &clone, nil
}

func (r *memorySettlementRepository) IsProcessed(ctx context.Context, nodeEid uint32, messageID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.processed[nodeEid][messageID], nil
}

func (r *memorySettlementRepository) MarkProcessed(ctx context.Context, nodeEid uint32, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markProcessedLocked(nodeEid, messageID)
	return nil
}

func (r *memorySettlementRepository) markProcessedLocked(nodeEid uint32, messageID string) {
	set, ok := r.processed[nodeEid]
	if !ok {
		set = make(map[string]bool)
		r.processed[nodeEid] = set
	}
	set[messageID] = true
}

func (r *memorySettlementRepository) ApplyResolution(ctx context.Context, nodeEid uint32, resolveID, transferID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if obligation, ok := r.obligations[transferID]; ok && obligation.NodeEid == nodeEid &&
		obligation.Status == models.ObligationStatusPending {
		obligation.Status = models.ObligationStatusResolved
		obligation.UpdatedAt = time.Now()
	}
	r.markProcessedLocked(nodeEid, resolveID)
	return nil
}

func (r *memorySettlementRepository) CountPending(ctx context.Context, nodeEid uint32) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count int64
	for _, obligation := range r.obligations {
		if obligation.NodeEid == nodeEid && obligation.Status == models.ObligationStatusPending {
			count++
		}
	}
	return count, nil
}

// memoryEventRepository implements EventRepository in memory
type memoryEventRepository struct {
	mu     sync.RWMutex
	nextID uint64
	events []*models.LedgerEvent
}

// NewMemoryEventRepository creates an in-memory EventRepository
func NewMemoryEventRepository() EventRepository {
	return &memoryEventRepository{}
}

func (r *memoryEventRepository) Append(ctx context.Context, event *models.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	event.ID = r.nextID
	event.CreatedAt = time.Now()
	clone := *event
	r.events = append(r.events, &clone)
	return nil
}

func (r *memoryEventRepository) ListByUser(ctx context.Context, user string, page, limit int) ([]*models.LedgerEvent, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.LedgerEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].User == user {
			clone := *r.events[i]
			matched = append(matched, &clone)
		}
	}

	total := int64(len(matched))
	start := (page - 1) * limit
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *memoryEventRepository) ListRecent(ctx context.Context, limit int) ([]*models.LedgerEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var recent []*models.LedgerEvent
	for i := len(r.events) - 1; i >= 0 && len(recent) < limit; i-- {
		clone := *r.events[i]
		recent = append(recent, &clone)
	}
	return recent, nil
}
