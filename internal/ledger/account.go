package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeSystemCustody

	// External sub-types. These are the ledger boundary: they mirror every
	// unit that entered or left, so they are the only accounts that may go
	// negative.
	SubTypeExternalFunding
	SubTypeExternalIssuance
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	AssetCollateral AssetID = 1
	AssetLiability  AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"BTC":  AssetCollateral,
		"USDV": AssetLiability,
	}
	idToAsset = map[AssetID]string{
		AssetCollateral: "BTC",
		AssetLiability:  "USDV",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// Assets returns every asset ID in ascending order.
func Assets() []AssetID {
	return []AssetID{AssetCollateral, AssetLiability}
}

// CustodyName is the entity name of the pool-owned custodial account.
const CustodyName = "custody"

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, name bytes for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for a user's wallet
func NewUserAccountKey(userID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewCustodyAccountKey is the custodial account holding every asset users
// locked in vaults or supplied to the pool.
func NewCustodyAccountKey(assetID AssetID) AccountKey {
	return NewSystemAccountKey(CustodyName, SubTypeSystemCustody, assetID)
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// IsBoundary reports whether the account sits outside the ledger.
func (k AccountKey) IsBoundary() bool {
	return k.Scope == AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeSystemCustody:
		return "custody"
	case SubTypeExternalFunding:
		return "funding"
	case SubTypeExternalIssuance:
		return "issuance"
	default:
		return "unknown"
	}
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	switch {
	case len(parts) == 4 && parts[0] == "user" && parts[2] == "wallet":
		userID, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		assetID, ok := GetAssetID(parts[3])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown asset", path)
		}
		return NewUserAccountKey(userID, assetID), nil

	case len(parts) == 3 && parts[0] == "system" && parts[1] == "custody":
		assetID, ok := GetAssetID(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown asset", path)
		}
		return NewCustodyAccountKey(assetID), nil

	case len(parts) == 3 && parts[0] == "external":
		assetID, ok := GetAssetID(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown asset", path)
		}
		switch parts[1] {
		case "funding":
			return NewExternalAccountKey(SubTypeExternalFunding, assetID), nil
		case "issuance":
			return NewExternalAccountKey(SubTypeExternalIssuance, assetID), nil
		}
	}

	return AccountKey{}, fmt.Errorf("parse account path %q: unrecognized", path)
}
