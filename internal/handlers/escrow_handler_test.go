package handlers

import (
	"errors"
	"net/http"
	"testing"

	"escrow-backend/internal/services"
)

func TestEscrowErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{services.ErrInvalidAmount, http.StatusBadRequest},
		{services.ErrInvalidAddress, http.StatusBadRequest},
		{services.ErrUnauthorized, http.StatusUnauthorized},
		{services.ErrAlreadyOptedIn, http.StatusConflict},
		{services.ErrNotOptedIn, http.StatusConflict},
		{services.ErrObligationPending, http.StatusConflict},
		{services.ErrMessageAlreadyProcessed, http.StatusConflict},
		{services.ErrInsufficientUnderlyingBalance, http.StatusUnprocessableEntity},
		{services.ErrInsufficientShareBalance, http.StatusUnprocessableEntity},
		{services.ErrInsufficientConvertedAmountReceived, http.StatusUnprocessableEntity},
		{services.ErrTokenTransferFailed, http.StatusBadGateway},
		{services.ErrUnauthorizedPeer, http.StatusForbidden},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := escrowErrorStatus(tc.err); got != tc.want {
			t.Errorf("escrowErrorStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}

	// Wrapped sentinels map the same way
	wrapped := errors.Join(errors.New("context"), services.ErrTokenTransferFailed)
	if got := escrowErrorStatus(wrapped); got != http.StatusBadGateway {
		t.Errorf("wrapped sentinel = %d, want %d", got, http.StatusBadGateway)
	}
}
