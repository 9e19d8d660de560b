package types

import (
	"bytes"
	"encoding/json"

	"github.com/tendermint/tendermint/crypto"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

type Address crypto.Address

func GetAddress(key crypto.PubKey) Address {
	return Address(key.Address())
}

func (addr Address) Equal(other Address) bool {
	if addr == nil || other == nil {
		return false
	}
	return bytes.Equal(crypto.Address(addr), crypto.Address(other))
}

// String 返回大写的hex编码，作为map的key使用
func (addr Address) String() string {
	return tmbytes.HexBytes(addr).String()
}

func (addr Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(tmbytes.HexBytes(addr))
}

func (addr *Address) UnmarshalJSON(data []byte) error {
	var hb tmbytes.HexBytes
	if err := json.Unmarshal(data, &hb); err != nil {
		return err
	}
	*addr = Address(hb)
	return nil
}

// Addresses 按字节序排序的地址列表
type Addresses []Address

func (as Addresses) Len() int           { return len(as) }
func (as Addresses) Less(i, j int) bool { return bytes.Compare(as[i], as[j]) < 0 }
func (as Addresses) Swap(i, j int)      { as[i], as[j] = as[j], as[i] }

func (as Addresses) Contains(addr Address) bool {
	for _, a := range as {
		if a.Equal(addr) {
			return true
		}
	}
	return false
}
