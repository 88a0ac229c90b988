package ledger

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/registry/store"
	"github.com/blockberries/registry/types"
)

// View decodes typed entities from any store.Reader.
type View struct {
	r store.Reader
}

// NewView returns a typed view over r.
func NewView(r store.Reader) View { return View{r: r} }

func load[T any](r store.Reader, key string) (T, bool, error) {
	var v T
	raw, ok, err := r.Get(key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := cramberry.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

// Account returns the account, which implicitly exists with zero values.
func (v View) Account(id types.AccountId) (types.Account, error) {
	a, _, err := load[types.Account](v.r, types.AccountKey(id))
	return a, err
}

func (v View) Org(id types.OrgId) (types.Org, bool, error) {
	return load[types.Org](v.r, types.OrgKey(id))
}

func (v View) Project(org types.OrgId, name types.ProjectName) (types.Project, bool, error) {
	return load[types.Project](v.r, types.ProjectKey(org, name))
}

func (v View) User(id types.UserId) (types.User, bool, error) {
	return load[types.User](v.r, types.UserKey(id))
}

// UserOf returns the user bound to an account.
func (v View) UserOf(acct types.AccountId) (types.UserId, bool, error) {
	raw, ok, err := v.r.Get(types.UserAccountKey(acct))
	if err != nil || !ok {
		return "", false, err
	}
	return types.UserId(raw), true, nil
}

func (v View) Checkpoint(id types.CheckpointId) (types.Checkpoint, bool, error) {
	return load[types.Checkpoint](v.r, types.CheckpointKey(id))
}

func (v View) Receipt(txHash types.Hash) (types.Receipt, bool, error) {
	return load[types.Receipt](v.r, types.ReceiptKey(txHash))
}

// State is a View whose writes are staged in an overlay.
type State struct {
	View
	ov *store.Overlay
}

// NewState returns a writable state over ov.
func NewState(ov *store.Overlay) State {
	return State{View: NewView(ov), ov: ov}
}

func (s State) put(key string, v any) error {
	data, err := cramberry.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	s.ov.Set(key, data)
	return nil
}

func (s State) SetAccount(id types.AccountId, a types.Account) error {
	return s.put(types.AccountKey(id), a)
}

func (s State) SetOrg(o types.Org) error { return s.put(types.OrgKey(o.ID), o) }

func (s State) DeleteOrg(id types.OrgId) { s.ov.Delete(types.OrgKey(id)) }

func (s State) SetProject(p types.Project) error {
	return s.put(types.ProjectKey(p.Org, p.Name), p)
}

func (s State) SetCheckpoint(c types.Checkpoint) error {
	return s.put(types.CheckpointKey(c.ID), c)
}

// SetUser writes the user and its account index.
func (s State) SetUser(u types.User) error {
	if err := s.put(types.UserKey(u.ID), u); err != nil {
		return err
	}
	s.ov.Set(types.UserAccountKey(u.Account), []byte(u.ID))
	return nil
}

// DeleteUser removes the user and its account index.
func (s State) DeleteUser(u types.User) {
	s.ov.Delete(types.UserKey(u.ID))
	s.ov.Delete(types.UserAccountKey(u.Account))
}

func (s State) SetReceipt(txHash types.Hash, r types.Receipt) error {
	return s.put(types.ReceiptKey(txHash), r)
}

// child returns a nested state for one message.
func (s State) child() State { return NewState(s.ov.Child()) }
