// Package proxy implements the Delegated Proxy: the stable address that owns
// a Storage Frame and forwards every call to the active Logic Module.
//
// Each operation runs in one store transaction while holding the proxy's
// mutex. A failure anywhere rolls back every slot write and event the
// operation made, so callers only ever observe whole calls. Events are
// published to the audit dispatcher after the transaction commits.
//
// Two entry points are handled by the proxy itself and never forwarded:
//
//	upgradeTo          {"module": "<ref>"}   owner-only implementation swap
//	transferOwnership  {"owner": "<addr>"}   owner-only owner change
package proxy
