package state

import (
	"encoding/binary"

	"github.com/weisyn/permnode/pkg/types"
)

// 键空间
//
//	state/s/<key>                 → CBOR(StateEntry)
//	state/j/<height BE4><hash32>  → CBOR(ChangeSet)
//	state/m/tip                   → CBOR(tipRecord)
const (
	prefixState   = "state/s/"
	prefixJournal = "state/j/"
	keyTip        = "state/m/tip"
)

type tipRecord struct {
	Hash   types.Hash `cbor:"1,keyasint"`
	Height uint32     `cbor:"2,keyasint"`
}

func stateKey(key string) []byte {
	return append([]byte(prefixState), key...)
}

func journalKey(height uint32, hash types.Hash) []byte {
	k := make([]byte, 0, len(prefixJournal)+4+32)
	k = append(k, prefixJournal...)
	k = binary.BigEndian.AppendUint32(k, height)
	return append(k, hash[:]...)
}

// journalHeight 从撤销日志键中解析高度
func journalHeight(key []byte) (uint32, bool) {
	if len(key) != len(prefixJournal)+4+32 {
		return 0, false
	}
	return binary.BigEndian.Uint32(key[len(prefixJournal):]), true
}
