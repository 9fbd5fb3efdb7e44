package badger

const (
	defaultPath       = "./data/badger"
	defaultSyncWrites = true

	// defaultMemTableSize 64MB
	defaultMemTableSize int64 = 64 << 20
)
