package types

// StateEntry 世界状态中单个键的持久化记录
//
// Deleted 为墓碑标记：键已删除但保留版本号，避免删除后重建的键复用旧版本。
type StateEntry struct {
	Value   []byte `cbor:"1,keyasint" json:"value,omitempty"`
	Version uint64 `cbor:"2,keyasint" json:"version"`
	Deleted bool   `cbor:"3,keyasint" json:"deleted,omitempty"`
}

// Clone 深拷贝
func (e StateEntry) Clone() StateEntry {
	e.Value = append([]byte(nil), e.Value...)
	return e
}

// StateWrite 区块提交后某个键的最终记录
type StateWrite struct {
	Key   string     `cbor:"1,keyasint" json:"key"`
	Entry StateEntry `cbor:"2,keyasint" json:"entry"`
}

// StateUndo 撤销记录：Prev 为 nil 表示提交前该键不存在
type StateUndo struct {
	Key  string      `cbor:"1,keyasint" json:"key"`
	Prev *StateEntry `cbor:"2,keyasint" json:"prev,omitempty"`
}

// ChangeSet 单个区块对世界状态的完整变更（可精确回滚、可原样重放）
type ChangeSet struct {
	BlockHash  Hash         `cbor:"1,keyasint" json:"block_hash"`
	ParentHash Hash         `cbor:"2,keyasint" json:"parent_hash"`
	Height     uint32       `cbor:"3,keyasint" json:"height"`
	Writes     []StateWrite `cbor:"4,keyasint" json:"writes"`
	Undo       []StateUndo  `cbor:"5,keyasint" json:"undo"`
}
