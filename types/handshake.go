package types

// HandshakeRequest is sent by the host on every startup.
type HandshakeRequest struct {
	// The last block the HOST committed. Nil = genesis (fresh chain).
	LastCommitted *BlockID `cramberry:"1"`
	// Raw genesis document. Only set when LastCommitted is nil.
	Genesis *GenesisDoc `cramberry:"2"`
}

// HandshakeResponse is the ledger's reply, reporting its
// state and capabilities.
type HandshakeResponse struct {
	// The last block the ledger committed. Nil = no blocks yet.
	LastBlock *BlockID `cramberry:"1"`
	// App hash at that height.
	AppHash *AppHash `cramberry:"2"`
	// Capabilities the ledger supports.
	Capabilities Capabilities `cramberry:"3"`
	// Hash of the genesis document the state was built from.
	GenesisHash Hash `cramberry:"4"`
}
