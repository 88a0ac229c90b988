package registrygrpc

import "github.com/blockberries/registry/types"

// Transport wrappers for RPCs whose Go signatures don't map to a
// single request/response struct.

// SubmitRequest opens the Submit stream.
type SubmitRequest struct {
	Tx types.Tx `cramberry:"1"`
}

// QueryRequest reads one canonical state key.
type QueryRequest struct {
	Key string `cramberry:"1"`
}

// QueryResponse carries the committed value, if any.
type QueryResponse struct {
	Found bool   `cramberry:"1"`
	Value []byte `cramberry:"2"`
}

// StatusRequest is the (empty) request for Status.
type StatusRequest struct{}
