//go:build ocproxy_debug

package conntable

// scrubSlot overwrites a released slot's fields with a recognizable
// sentinel so that a use-after-free shows up immediately in a debugger or
// crash dump instead of silently reading stale-but-plausible state. Built
// only with the ocproxy_debug tag; release builds skip the extra writes.
func scrubSlot(s *Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = deadSlotSentinel
}

const deadSlotSentinel = -0x5ca1ab1e & 0x7fffffff
