package domain

import "strings"

// Viewer is the identity looking at a trace.
// It is threaded explicitly through every operation that needs it.
type Viewer struct {
	Address        string
	SessionToken   string
	NativeCurrency string
}

// IsAnonymous reports whether the viewer has no wallet address
func (v Viewer) IsAnonymous() bool {
	return v.Address == ""
}

// Is compares the viewer's address with another address, ignoring hex case
func (v Viewer) Is(address string) bool {
	return v.Address != "" && strings.EqualFold(v.Address, address)
}

// NetworkState is the network the viewer's wallet is currently connected to
type NetworkState struct {
	ChainID int64
}
