package kvdb

// Limits of a KVDB and its KVS instances
const (
	KVSCountMax = 256     // Maximum number of KVS in a KVDB
	KeyLenMax   = 1344    // Maximum key length in bytes
	ValueLenMax = 1 << 20 // Maximum value length in bytes
	PfxLenMax   = 32      // Maximum prefix length of a prefix KVS
	SfxLenMax   = 32      // Maximum suffix length
	NameLenMax  = 32      // Maximum KVS name length
)
