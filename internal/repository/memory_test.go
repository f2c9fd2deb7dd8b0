package repository

import (
	"context"
	"testing"

	"escrow-backend/internal/models"
)

func TestMemoryAccountRepositoryCreateAndGet(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	got, err := repo.GetByAddress(ctx, "0xabc")
	if err != nil {
		t.Fatalf("GetByAddress: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent account, got %+v", got)
	}

	account := &models.UserAccount{
		Address:           "0xabc",
		UnderlyingBalance: "100",
		ShareBalance:      "0",
		OptStatus:         models.OptStatusOptedOut,
	}
	if err := repo.Create(ctx, account); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if account.ID == 0 {
		t.Fatal("Create did not assign an id")
	}

	got, err = repo.GetByAddress(ctx, "0xabc")
	if err != nil {
		t.Fatalf("GetByAddress: %v", err)
	}
	if got == nil || got.UnderlyingBalance != "100" {
		t.Fatalf("GetByAddress = %+v", got)
	}

	// Mutating the returned copy must not leak into the store
	got.UnderlyingBalance = "999"
	again, _ := repo.GetByAddress(ctx, "0xabc")
	if again.UnderlyingBalance != "100" {
		t.Fatalf("returned account aliases the store: %s", again.UnderlyingBalance)
	}
}

func TestMemorySettlementRepositoryResolutionFlow(t *testing.T) {
	repo := NewMemorySettlementRepository()
	ctx := context.Background()

	obligation := &models.Obligation{
		NodeEid:   1,
		MessageID: "0xtransfer",
		Recipient: "0xcarol",
		Amount:    "250",
	}
	if err := repo.CreatePending(ctx, obligation); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	pending, err := repo.PendingByRecipient(ctx, 1, "0xcarol")
	if err != nil {
		t.Fatalf("PendingByRecipient: %v", err)
	}
	if pending == nil || pending.Amount != "250" {
		t.Fatalf("PendingByRecipient = %+v", pending)
	}

	// Scoped by node eid
	other, _ := repo.PendingByRecipient(ctx, 2, "0xcarol")
	if other != nil {
		t.Fatalf("obligation leaked across node eids: %+v", other)
	}
	if leaked, _ := repo.GetByMessageID(ctx, 2, "0xtransfer"); leaked != nil {
		t.Fatalf("GetByMessageID leaked across node eids: %+v", leaked)
	}

	// Another node's resolution must not touch this node's obligation
	if err := repo.ApplyResolution(ctx, 2, "0xforeign", "0xtransfer"); err != nil {
		t.Fatalf("ApplyResolution on foreign node: %v", err)
	}
	if pending, _ := repo.PendingByRecipient(ctx, 1, "0xcarol"); pending == nil {
		t.Fatal("obligation resolved by another node")
	}

	if err := repo.ApplyResolution(ctx, 1, "0xresolve", "0xtransfer"); err != nil {
		t.Fatalf("ApplyResolution: %v", err)
	}

	processed, err := repo.IsProcessed(ctx, 1, "0xresolve")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !processed {
		t.Fatal("resolve id not marked processed")
	}

	resolved, _ := repo.GetByMessageID(ctx, 1, "0xtransfer")
	if resolved == nil || resolved.Status != models.ObligationStatusResolved {
		t.Fatalf("obligation not resolved: %+v", resolved)
	}
	if pending, _ := repo.PendingByRecipient(ctx, 1, "0xcarol"); pending != nil {
		t.Fatalf("resolved obligation still pending: %+v", pending)
	}

	count, err := repo.CountPending(ctx, 1)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if count != 0 {
		t.Fatalf("CountPending = %d, want 0", count)
	}
}

func TestMemoryEventRepositoryListByUser(t *testing.T) {
	repo := NewMemoryEventRepository()
	ctx := context.Background()

	for _, event := range []*models.LedgerEvent{
		{Type: models.EventTypeDeposit, User: "0xalice", Amount: "1"},
		{Type: models.EventTypeDeposit, User: "0xbob", Amount: "2"},
		{Type: models.EventTypeWithdraw, User: "0xalice", Amount: "3"},
	} {
		if err := repo.Append(ctx, event); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, total, err := repo.ListByUser(ctx, "0xalice", 1, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if total != 2 || len(events) != 2 {
		t.Fatalf("ListByUser total=%d len=%d, want 2/2", total, len(events))
	}
	// Newest first
	if events[0].Type != models.EventTypeWithdraw {
		t.Fatalf("first event = %s, want newest (withdraw)", events[0].Type)
	}

	recent, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].User != "0xalice" {
		t.Fatalf("ListRecent = %+v", recent)
	}
}
