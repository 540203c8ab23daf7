package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies a token holder, operator or the pool itself.
type Address = common.Address

// ZeroAddress is the from-side of a mint and the to-side of a burn.
var ZeroAddress Address

func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return ZeroAddress, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Holder Address
	Token  TokenID
}

func NewAccountKey(holder Address, token TokenID) AccountKey {
	return AccountKey{Holder: holder, Token: token}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	return fmt.Sprintf("%s:%s", k.Holder.Hex(), k.Token.String())
}

// SortAddresses orders addresses bytewise so holder iteration is deterministic.
func SortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
}
