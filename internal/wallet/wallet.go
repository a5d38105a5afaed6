// Package wallet holds the configured trading wallets: their signing keys,
// addresses and most recently fetched balances.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/moonbot/internal/crypto"
	"github.com/alanyoungcy/moonbot/internal/domain"
)

// Config describes one wallet.
type Config struct {
	ID         string
	Blockchain string
	Key        crypto.KeyConfig
}

// BalanceFetcher reads on-chain balances for an account.
type BalanceFetcher interface {
	FetchBalances(ctx context.Context, acct domain.Account) (domain.Balances, error)
}

// Info is the public view of a wallet.
type Info struct {
	ID         string `json:"id"`
	Blockchain string `json:"blockchain"`
	Address    string `json:"address"`
}

// Wallet is a signing key plus cached balances.
type Wallet struct {
	id         string
	blockchain string
	signer     *crypto.Signer

	mu        sync.RWMutex
	balances  domain.Balances
	updatedAt time.Time
}

// Open loads the wallet key from its configured source.
func Open(cfg Config) (*Wallet, error) {
	key, err := crypto.LoadKey(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("wallet: open %s: %w", cfg.ID, err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return nil, fmt.Errorf("wallet: open %s: %w", cfg.ID, err)
	}
	return New(cfg.ID, cfg.Blockchain, signer), nil
}

func New(id, blockchain string, signer *crypto.Signer) *Wallet {
	return &Wallet{id: id, blockchain: blockchain, signer: signer}
}

func (w *Wallet) ID() string              { return w.id }
func (w *Wallet) Address() string         { return w.signer.Address() }
func (w *Wallet) Signer() *crypto.Signer  { return w.signer }
func (w *Wallet) Info() Info              { return Info{ID: w.id, Blockchain: w.blockchain, Address: w.Address()} }
func (w *Wallet) Account() domain.Account { return domain.Account{WalletID: w.id, Address: w.Address(), Blockchain: w.blockchain} }

// Refresh replaces the cached balances.
func (w *Wallet) Refresh(ctx context.Context, fetcher BalanceFetcher) error {
	b, err := fetcher.FetchBalances(ctx, w.Account())
	if err != nil {
		return fmt.Errorf("wallet: refresh %s: %w", w.id, err)
	}
	w.mu.Lock()
	w.balances = b
	w.updatedAt = time.Now()
	w.mu.Unlock()
	return nil
}

// Balances returns a copy of the cached balances.
func (w *Wallet) Balances() domain.Balances {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return domain.Balances{
		Confirmed: maps.Clone(w.balances.Confirmed),
		Locked:    maps.Clone(w.balances.Locked),
	}
}

// UpdatedAt is when the balances were last refreshed.
func (w *Wallet) UpdatedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.updatedAt
}

// Set is the fixed collection of wallets loaded at startup.
type Set struct {
	wallets map[string]*Wallet
	logger  *slog.Logger
}

func NewSet(logger *slog.Logger, wallets ...*Wallet) *Set {
	s := &Set{
		wallets: make(map[string]*Wallet, len(wallets)),
		logger:  logger.With(slog.String("component", "wallets")),
	}
	for _, w := range wallets {
		s.wallets[w.id] = w
	}
	return s
}

// Get returns a wallet by id.
func (s *Set) Get(id string) (*Wallet, error) {
	w, ok := s.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet: %s: %w", id, domain.ErrNotFound)
	}
	return w, nil
}

// List returns wallets ordered by id.
func (s *Set) List() []*Wallet {
	out := make([]*Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// RefreshAll refreshes every wallet concurrently. A failing wallet keeps its
// previous balances; the first error is returned after all have finished.
func (s *Set) RefreshAll(ctx context.Context, fetcher BalanceFetcher) error {
	var g errgroup.Group
	for _, w := range s.wallets {
		g.Go(func() error {
			if err := w.Refresh(ctx, fetcher); err != nil {
				s.logger.Warn("balance refresh failed",
					slog.String("wallet", w.id),
					slog.String("error", err.Error()),
				)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
