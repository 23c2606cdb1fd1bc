//go:build !ocproxy_debug

package conntable

// scrubSlot is a no-op outside debug builds; Release has already cleared
// the fields that matter for correctness.
func scrubSlot(s *Slot) {}
