package pool

// Backend is the bulk storage behind the pocket. Implementations must be safe
// for concurrent use and must never hand out the same item twice.
type Backend[T any] interface {
	// Store keeps item if the backend currently holds fewer than limit items.
	// The check is advisory; racing stores may overshoot limit slightly.
	Store(item *T, limit int) bool
	// Retrieve removes and returns one item, or nil when empty.
	Retrieve() *T
	// Count reports the number of stored items.
	Count() int
	// Close drops all storage. Later calls report empty and refuse stores.
	Close()
}

// Hooks lets richer admission policies veto returns and observe traffic.
// Implementations are called without any pool lock held.
type Hooks interface {
	CanReceive() bool
	OnReceived()
	OnReleased()
}

// NopHooks admits every item and ignores traffic.
type NopHooks struct{}

// CanReceive always admits.
func (NopHooks) CanReceive() bool { return true }

// OnReceived does nothing.
func (NopHooks) OnReceived() {}

// OnReleased does nothing.
func (NopHooks) OnReleased() {}
