package types

// ChainStatus is an oracle's view of the committed chain tip.
type ChainStatus struct {
	Height      uint64  `cramberry:"1"`
	AppHash     AppHash `cramberry:"2"`
	GenesisHash Hash    `cramberry:"3"`
	BlockHash   Hash    `cramberry:"4"`
}
