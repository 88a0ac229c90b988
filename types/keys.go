package types

import (
	"fmt"
	"strings"
)

// Canonical state key prefixes.
const (
	PrefixAccount     = "account:"
	PrefixOrg         = "org:"
	PrefixProject     = "project:"
	PrefixUser        = "user:"
	PrefixCheckpoint  = "checkpoint:"
	PrefixUserAccount = "useracct:"
	PrefixReceipt     = "receipt:"
	PrefixMeta        = "meta:"
	PrefixList        = "list:"
)

// Metadata keys. Writes to these are excluded from the app hash.
const (
	KeyGenesisHash = PrefixMeta + "genesis_hash"
	KeyHeight      = PrefixMeta + "height"
	KeyAppHash     = PrefixMeta + "app_hash"
)

// List keys answered by the query path.
const (
	ListOrgs        = PrefixList + "org"
	ListUsers       = PrefixList + "user"
	ListProjects    = PrefixList + "project"
	ListCheckpoints = PrefixList + "checkpoint"
)

func AccountKey(id AccountId) string { return PrefixAccount + id.String() }
func OrgKey(id OrgId) string { return PrefixOrg + string(id) }
func UserKey(id UserId) string { return PrefixUser + string(id) }
func CheckpointKey(id CheckpointId) string { return PrefixCheckpoint + id.String() }
func UserAccountKey(id AccountId) string { return PrefixUserAccount + id.String() }
func ReceiptKey(txHash Hash) string { return PrefixReceipt + txHash.String() }

func ProjectKey(org OrgId, name ProjectName) string {
	return PrefixProject + string(org) + "/" + string(name)
}

// ListPrefix maps a list key to the state prefix it enumerates.
func ListPrefix(listKey string) (string, error) {
	kind, ok := strings.CutPrefix(listKey, PrefixList)
	if !ok {
		return "", fmt.Errorf("not a list key: %q", listKey)
	}
	switch kind {
	case "org":
		return PrefixOrg, nil
	case "user":
		return PrefixUser, nil
	case "project":
		return PrefixProject, nil
	case "checkpoint":
		return PrefixCheckpoint, nil
	default:
		return "", fmt.Errorf("unknown list %q", kind)
	}
}
