package backend

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/tracefund/trace-backend/internal/domain"
)

// WalletChecker reports whether an address can pay for a transaction
type WalletChecker interface {
	CheckBalance(ctx context.Context, address string) error
}

// IdentityProvider resolves sessions against the backend and wallet balances on chain
type IdentityProvider struct {
	client *Client
	wallet WalletChecker
}

// NewIdentityProvider creates a new IdentityProvider instance
func NewIdentityProvider(client *Client, wallet WalletChecker) *IdentityProvider {
	return &IdentityProvider{client: client, wallet: wallet}
}

// IsAuthenticated reports whether the viewer's session belongs to the viewer's address
func (p *IdentityProvider) IsAuthenticated(ctx context.Context, viewer domain.Viewer) (bool, error) {
	if viewer.SessionToken == "" || viewer.IsAnonymous() {
		return false, nil
	}

	var out struct {
		Address string `json:"address"`
	}
	req := p.client.newRequest(ctx).SetAuthToken(viewer.SessionToken)
	err := p.client.do(req, http.MethodGet, "/authentication/session", &out)
	if IsStatus(err, http.StatusUnauthorized) || IsStatus(err, http.StatusForbidden) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to resolve session")
	}
	return viewer.Is(out.Address), nil
}

// CheckBalance returns domain.ErrNoBalance when the viewer's wallet cannot pay for gas
func (p *IdentityProvider) CheckBalance(ctx context.Context, viewer domain.Viewer) error {
	if p.wallet == nil {
		return nil
	}
	return p.wallet.CheckBalance(ctx, viewer.Address)
}
