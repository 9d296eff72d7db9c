// Package api exposes the REST surface of the protocol: agent registration
// and staking, copy-position escrow, dispute handling, reputation proofs and
// admin operations. Routes are permission-guarded when authentication is on.
package api
