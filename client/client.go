// Package client submits registry transactions to an ordering oracle
// and tracks them to their applied outcome.
//
// A Tracker exposes two milestones: Included resolves with the block
// that ordered the transaction, Result with the ledger's verdict.
// Cancelling a wait never retracts the transaction.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/crypto"
	"github.com/blockberries/registry/types"
)

// Oracle orders transactions into blocks and serves committed state.
type Oracle interface {
	// Submit hands tx to the oracle. A refusal is returned as an error
	// carrying a *registry.TxError. Otherwise the channel reports the
	// transaction's progress and closes after a terminal event.
	Submit(ctx context.Context, tx types.Tx) (<-chan types.InclusionEvent, error)
	// Query reads one canonical state key.
	Query(ctx context.Context, key string) ([]byte, bool, error)
	// Status returns the committed chain tip.
	Status(ctx context.Context) (types.ChainStatus, error)
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records tracker outcomes.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client submits transactions and reads registry state through an Oracle.
type Client struct {
	oracle  Oracle
	metrics *Metrics
	log     *slog.Logger

	mu      sync.Mutex
	genesis *types.Hash
}

// New returns a client for o.
func New(o Oracle, opts ...Option) *Client {
	c := &Client{oracle: o, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit hands tx to the oracle and returns a tracker following it.
// An immediate refusal returns an error wrapping both
// registry.ErrSubmissionRejected and the *registry.TxError.
//
// The tracker and its oracle subscription outlive ctx; use
// Tracker.Detach to stop observing.
func (c *Client) Submit(ctx context.Context, tx types.Tx) (*Tracker, error) {
	t := newTracker(tx.Hash(), c.metrics)
	followCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := c.oracle.Submit(followCtx, tx)
	if err != nil {
		cancel()
		if _, ok := registry.AsTxError(err); ok {
			t.transition(StateCreated, StateSubmissionRejected)
			return nil, fmt.Errorf("%w: %w", registry.ErrSubmissionRejected, err)
		}
		return nil, fmt.Errorf("submit %s: %w", t.hash, err)
	}
	t.transition(StateCreated, StateSubmitted)

	t.cancel = cancel
	go t.follow(followCtx, events)
	c.log.Debug("tx submitted", "tx", t.hash.String())
	return t, nil
}

// SignAndSubmit signs call with key at the account's next nonce and
// submits it. Callers queuing several transactions from one account
// should sign explicitly with consecutive nonces instead.
func (c *Client) SignAndSubmit(ctx context.Context, key crypto.PrivateKey, call types.Payload) (*Tracker, error) {
	gh, err := c.GenesisHash(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := c.AccountNonce(ctx, types.AccountOf(key))
	if err != nil {
		return nil, err
	}
	tx, err := types.SignTransaction(key, types.NewMessage(call), nonce, gh)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	raw, err := tx.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return c.Submit(ctx, raw)
}

// GenesisHash returns the chain's genesis hash, fetched once.
func (c *Client) GenesisHash(ctx context.Context) (types.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.genesis != nil {
		return *c.genesis, nil
	}
	status, err := c.oracle.Status(ctx)
	if err != nil {
		return types.Hash{}, fmt.Errorf("status: %w", err)
	}
	c.genesis = &status.GenesisHash
	return status.GenesisHash, nil
}

func get[T any](ctx context.Context, o Oracle, key string) (T, bool, error) {
	var v T
	raw, found, err := o.Query(ctx, key)
	if err != nil || !found {
		return v, false, err
	}
	if err := cramberry.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

func list[T any](ctx context.Context, o Oracle, listKey string) ([]T, error) {
	entries, _, err := get[types.EntryList](ctx, o, listKey)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entries.Entries))
	for _, e := range entries.Entries {
		var v T
		if err := cramberry.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Account returns the committed account, zero if it never held funds.
func (c *Client) Account(ctx context.Context, id types.AccountId) (types.Account, error) {
	a, _, err := get[types.Account](ctx, c.oracle, types.AccountKey(id))
	return a, err
}

// AccountNonce returns the nonce the next transaction from id must carry.
func (c *Client) AccountNonce(ctx context.Context, id types.AccountId) (uint32, error) {
	a, err := c.Account(ctx, id)
	return a.Nonce, err
}

// FreeBalance returns the committed balance of id.
func (c *Client) FreeBalance(ctx context.Context, id types.AccountId) (types.Balance, error) {
	a, err := c.Account(ctx, id)
	return a.Balance, err
}

func (c *Client) GetOrg(ctx context.Context, id types.OrgId) (types.Org, bool, error) {
	return get[types.Org](ctx, c.oracle, types.OrgKey(id))
}

func (c *Client) GetUser(ctx context.Context, id types.UserId) (types.User, bool, error) {
	return get[types.User](ctx, c.oracle, types.UserKey(id))
}

// UserOf returns the user bound to an account.
func (c *Client) UserOf(ctx context.Context, id types.AccountId) (types.User, bool, error) {
	raw, found, err := c.oracle.Query(ctx, types.UserAccountKey(id))
	if err != nil || !found {
		return types.User{}, false, err
	}
	return c.GetUser(ctx, types.UserId(raw))
}

func (c *Client) GetProject(ctx context.Context, org types.OrgId, name types.ProjectName) (types.Project, bool, error) {
	return get[types.Project](ctx, c.oracle, types.ProjectKey(org, name))
}

func (c *Client) GetCheckpoint(ctx context.Context, id types.CheckpointId) (types.Checkpoint, bool, error) {
	return get[types.Checkpoint](ctx, c.oracle, types.CheckpointKey(id))
}

// Receipt returns the recorded outcome of an included transaction.
func (c *Client) Receipt(ctx context.Context, txHash types.Hash) (types.Receipt, bool, error) {
	return get[types.Receipt](ctx, c.oracle, types.ReceiptKey(txHash))
}

func (c *Client) ListOrgs(ctx context.Context) ([]types.Org, error) {
	return list[types.Org](ctx, c.oracle, types.ListOrgs)
}

func (c *Client) ListUsers(ctx context.Context) ([]types.User, error) {
	return list[types.User](ctx, c.oracle, types.ListUsers)
}

func (c *Client) ListProjects(ctx context.Context) ([]types.Project, error) {
	return list[types.Project](ctx, c.oracle, types.ListProjects)
}

func (c *Client) ListCheckpoints(ctx context.Context) ([]types.Checkpoint, error) {
	return list[types.Checkpoint](ctx, c.oracle, types.ListCheckpoints)
}
