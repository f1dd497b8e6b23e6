package exchange

import (
	"context"

	"github.com/aristath/sentinel/internal/domain"
)

// accountByID is the narrow account-lookup seam AccountPortResolver
// needs from internal/modules/account.Repository — declared locally so
// this package doesn't need account's full surface, just this one call.
type accountByID interface {
	ResolveAccount(ctx context.Context, accountID int64) (domain.Account, error)
}

// AccountPortResolver combines an account lookup with this package's
// Registry to satisfy execution.PortResolver, which bundles both
// ResolveAccount and PortFor on one interface. Registry alone already
// satisfies reconcile.PortResolver and position.PortResolver (PortFor
// only); execution's combined interface is the one case needing both
// halves on a single type, so main.go wires this small adapter instead
// of adding a PortFor-unrelated method to account.Repository.
type AccountPortResolver struct {
	accounts accountByID
	registry *Registry
}

func NewAccountPortResolver(accounts accountByID, registry *Registry) *AccountPortResolver {
	return &AccountPortResolver{accounts: accounts, registry: registry}
}

func (a *AccountPortResolver) ResolveAccount(ctx context.Context, accountID int64) (domain.Account, error) {
	return a.accounts.ResolveAccount(ctx, accountID)
}

func (a *AccountPortResolver) PortFor(ctx context.Context, account domain.Account) (domain.ExchangePort, error) {
	return a.registry.PortFor(ctx, account)
}
