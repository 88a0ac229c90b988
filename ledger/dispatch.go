package ledger

import (
	"math"
	"sort"
	"strconv"

	"github.com/blockberries/registry"
	"github.com/blockberries/registry/types"
)

// dispatcher executes one call on the child state of a transition.
type dispatcher struct {
	st       State
	sender   types.AccountId
	maxDepth int
}

func fail(code registry.Code, format string, args ...any) (Result, error) {
	return Result{Err: registry.NewTxError(code, format, args...)}, nil
}

func ok(data []byte, events ...types.Event) (Result, error) {
	return Result{Events: events, Data: data}, nil
}

func amount(b types.Balance) string { return strconv.FormatUint(uint64(b), 10) }

func (d dispatcher) dispatch(call types.Payload) (Result, error) {
	switch m := call.(type) {
	case *types.RegisterOrg:
		return d.registerOrg(m)
	case *types.UnregisterOrg:
		return d.unregisterOrg(m)
	case *types.RegisterMember:
		return d.registerMember(m)
	case *types.RegisterProject:
		return d.registerProject(m)
	case *types.TransferFromOrg:
		return d.transferFromOrg(m)
	case *types.CreateCheckpoint:
		return d.createCheckpoint(m)
	case *types.SetCheckpoint:
		return d.setCheckpoint(m)
	case *types.Transfer:
		return d.transfer(m)
	case *types.RegisterUser:
		return d.registerUser(m)
	case *types.UnregisterUser:
		return d.unregisterUser(m)
	default:
		return fail(registry.CodeDecodeFailed, "unknown call %T", call)
	}
}

func (d dispatcher) registerOrg(m *types.RegisterOrg) (Result, error) {
	_, exists, err := d.st.Org(m.OrgID)
	if err != nil {
		return Result{}, err
	}
	if exists {
		return fail(registry.CodeOrgExists, "org %q", m.OrgID)
	}
	org := types.Org{
		ID:      m.OrgID,
		Account: types.OrgAccount(m.OrgID),
		Members: []types.AccountId{d.sender},
	}
	if err := d.st.SetOrg(org); err != nil {
		return Result{}, err
	}
	return ok(nil, types.NewEvent(types.EventOrgRegistered,
		"org", string(org.ID), "account", org.Account.String(), "owner", d.sender.String()))
}

// memberOrg loads an org and checks the sender belongs to it.
func (d dispatcher) memberOrg(id types.OrgId) (types.Org, *registry.TxError, error) {
	org, found, err := d.st.Org(id)
	if err != nil {
		return org, nil, err
	}
	if !found {
		return org, registry.NewTxError(registry.CodeOrgNotFound, "org %q", id), nil
	}
	if !org.HasMember(d.sender) {
		return org, registry.NewTxError(registry.CodeNotOrgMember, "%s is not a member of %q", d.sender, id), nil
	}
	return org, nil, nil
}

func (d dispatcher) unregisterOrg(m *types.UnregisterOrg) (Result, error) {
	org, txErr, err := d.memberOrg(m.OrgID)
	if err != nil || txErr != nil {
		return Result{Err: txErr}, err
	}
	if len(org.Members) != 1 {
		return fail(registry.CodeUnregisterableOrg, "org %q has %d members", org.ID, len(org.Members))
	}
	if len(org.Projects) != 0 {
		return fail(registry.CodeUnregisterableOrg, "org %q has %d projects", org.ID, len(org.Projects))
	}
	funds, err := d.st.Account(org.Account)
	if err != nil {
		return Result{}, err
	}
	if funds.Balance != 0 {
		return fail(registry.CodeUnregisterableOrg, "org %q holds %d", org.ID, funds.Balance)
	}
	d.st.DeleteOrg(org.ID)
	return ok(nil, types.NewEvent(types.EventOrgUnregistered, "org", string(org.ID)))
}

func (d dispatcher) registerMember(m *types.RegisterMember) (Result, error) {
	org, txErr, err := d.memberOrg(m.OrgID)
	if err != nil || txErr != nil {
		return Result{Err: txErr}, err
	}
	if org.HasMember(m.Account) {
		return fail(registry.CodeAlreadyOrgMember, "%s is already a member of %q", m.Account, org.ID)
	}
	org.Members = append(org.Members, m.Account)
	if err := d.st.SetOrg(org); err != nil {
		return Result{}, err
	}
	return ok(nil, types.NewEvent(types.EventMemberRegistered,
		"org", string(org.ID), "member", m.Account.String()))
}

func (d dispatcher) registerProject(m *types.RegisterProject) (Result, error) {
	org, txErr, err := d.memberOrg(m.OrgID)
	if err != nil || txErr != nil {
		return Result{Err: txErr}, err
	}
	if m.Checkpoint != nil {
		if _, found, err := d.st.Checkpoint(*m.Checkpoint); err != nil {
			return Result{}, err
		} else if !found {
			return fail(registry.CodeCheckpointNotFound, "checkpoint %s", m.Checkpoint)
		}
	}
	if _, exists, err := d.st.Project(org.ID, m.ProjectName); err != nil {
		return Result{}, err
	} else if exists {
		return fail(registry.CodeProjectExists, "project %s/%s", org.ID, m.ProjectName)
	}

	project := types.Project{
		Org:        org.ID,
		Name:       m.ProjectName,
		Metadata:   m.Metadata,
		Checkpoint: m.Checkpoint,
	}
	if err := d.st.SetProject(project); err != nil {
		return Result{}, err
	}
	i := sort.Search(len(org.Projects), func(i int) bool { return org.Projects[i] >= m.ProjectName })
	org.Projects = append(org.Projects, "")
	copy(org.Projects[i+1:], org.Projects[i:])
	org.Projects[i] = m.ProjectName
	if err := d.st.SetOrg(org); err != nil {
		return Result{}, err
	}
	return ok(nil, types.NewEvent(types.EventProjectRegistered,
		"org", string(org.ID), "project", string(m.ProjectName)))
}

// move transfers amount between two accounts. The caller has already
// checked amount is positive.
func (d dispatcher) move(from, to types.AccountId, amt types.Balance) (*registry.TxError, error) {
	src, err := d.st.Account(from)
	if err != nil {
		return nil, err
	}
	if src.Balance < amt {
		return registry.NewTxError(registry.CodeUnderflow, "balance %d below %d", src.Balance, amt), nil
	}
	if from == to {
		return nil, nil
	}
	dst, err := d.st.Account(to)
	if err != nil {
		return nil, err
	}
	if dst.Balance > math.MaxUint64-amt {
		return registry.NewTxError(registry.CodeOverflow, "recipient balance %d cannot take %d", dst.Balance, amt), nil
	}
	src.Balance -= amt
	dst.Balance += amt
	if err := d.st.SetAccount(from, src); err != nil {
		return nil, err
	}
	return nil, d.st.SetAccount(to, dst)
}

func (d dispatcher) transferFromOrg(m *types.TransferFromOrg) (Result, error) {
	if m.Amount == 0 {
		return fail(registry.CodeInvalidAmount, "amount is zero")
	}
	org, txErr, err := d.memberOrg(m.OrgID)
	if err != nil || txErr != nil {
		return Result{Err: txErr}, err
	}
	if txErr, err := d.move(org.Account, m.Recipient, m.Amount); err != nil || txErr != nil {
		return Result{Err: txErr}, err
	}
	return ok(nil, types.NewEvent(types.EventTransfer,
		"from", org.Account.String(), "to", m.Recipient.String(), "amount", amount(m.Amount), "org", string(org.ID)))
}

func (d dispatcher) transfer(m *types.Transfer) (Result, error) {
	if m.Amount == 0 {
		return fail(registry.CodeInvalidAmount, "amount is zero")
	}
	if txErr, err := d.move(d.sender, m.Recipient, m.Amount); err != nil || txErr != nil {
		return Result{Err: txErr}, err
	}
	return ok(nil, types.NewEvent(types.EventTransfer,
		"from", d.sender.String(), "to", m.Recipient.String(), "amount", amount(m.Amount)))
}

func (d dispatcher) createCheckpoint(m *types.CreateCheckpoint) (Result, error) {
	if m.Parent != nil {
		if _, found, err := d.st.Checkpoint(*m.Parent); err != nil {
			return Result{}, err
		} else if !found {
			return fail(registry.CodeCheckpointNotFound, "parent %s", m.Parent)
		}
	}
	cp, err := types.NewCheckpoint(m.Parent, m.ContentHash)
	if err != nil {
		return Result{}, err
	}
	if _, exists, err := d.st.Checkpoint(cp.ID); err != nil {
		return Result{}, err
	} else if exists {
		return fail(registry.CodeCheckpointExists, "checkpoint %s", cp.ID)
	}
	if err := d.st.SetCheckpoint(cp); err != nil {
		return Result{}, err
	}
	kv := []string{"checkpoint", cp.ID.String()}
	if cp.Parent != nil {
		kv = append(kv, "parent", cp.Parent.String())
	}
	return ok(cp.ID[:], types.NewEvent(types.EventCheckpointCreated, kv...))
}

func (d dispatcher) setCheckpoint(m *types.SetCheckpoint) (Result, error) {
	target, found, err := d.st.Checkpoint(m.Checkpoint)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return fail(registry.CodeCheckpointNotFound, "checkpoint %s", m.Checkpoint)
	}
	org, found, err := d.st.Org(m.OrgID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return fail(registry.CodeOrgNotFound, "org %q", m.OrgID)
	}
	project, found, err := d.st.Project(m.OrgID, m.ProjectName)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return fail(registry.CodeProjectNotFound, "project %s/%s", m.OrgID, m.ProjectName)
	}
	if !org.HasMember(d.sender) {
		return fail(registry.CodeNotOrgMember, "%s is not a member of %q", d.sender, org.ID)
	}
	if project.Checkpoint != nil {
		if txErr, err := d.descends(target, *project.Checkpoint); err != nil || txErr != nil {
			return Result{Err: txErr}, err
		}
	}

	id := target.ID
	project.Checkpoint = &id
	if err := d.st.SetProject(project); err != nil {
		return Result{}, err
	}
	return ok(nil, types.NewEvent(types.EventCheckpointSet,
		"org", string(org.ID), "project", string(project.Name), "checkpoint", id.String()))
}

// descends checks that cp is ancestor or descends from it, following at
// most maxDepth parent links.
func (d dispatcher) descends(cp types.Checkpoint, ancestor types.CheckpointId) (*registry.TxError, error) {
	if cp.ID == ancestor {
		return nil, nil
	}
	next := cp.Parent
	for depth := 1; next != nil; depth++ {
		if *next == ancestor {
			return nil, nil
		}
		if depth >= d.maxDepth {
			return registry.NewTxError(registry.CodeAncestryDepthExceeded,
				"no ancestor %s within %d links of %s", ancestor, d.maxDepth, cp.ID), nil
		}
		parent, found, err := d.st.Checkpoint(*next)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		next = parent.Parent
	}
	return registry.NewTxError(registry.CodeCheckpointAncestryViolation,
		"%s does not descend from %s", cp.ID, ancestor), nil
}

func (d dispatcher) registerUser(m *types.RegisterUser) (Result, error) {
	if _, taken, err := d.st.User(m.UserID); err != nil {
		return Result{}, err
	} else if taken {
		return fail(registry.CodeUserNameTaken, "user %q", m.UserID)
	}
	if existing, has, err := d.st.UserOf(d.sender); err != nil {
		return Result{}, err
	} else if has {
		return fail(registry.CodeAccountHasUser, "%s is already user %q", d.sender, existing)
	}
	if err := d.st.SetUser(types.User{ID: m.UserID, Account: d.sender}); err != nil {
		return Result{}, err
	}
	return ok(nil, types.NewEvent(types.EventUserRegistered,
		"user", string(m.UserID), "account", d.sender.String()))
}

func (d dispatcher) unregisterUser(m *types.UnregisterUser) (Result, error) {
	u, found, err := d.st.User(m.UserID)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return fail(registry.CodeUserNotFound, "user %q", m.UserID)
	}
	if u.Account != d.sender {
		return fail(registry.CodeNotUserOwner, "user %q belongs to %s", u.ID, u.Account)
	}
	d.st.DeleteUser(u)
	return ok(nil, types.NewEvent(types.EventUserUnregistered, "user", string(u.ID)))
}
