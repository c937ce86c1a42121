//go:build debugalloc

package memutils

// DebugValidate calls Validate on the provided object and panics if it returns an
// error. No-ops unless the debugalloc build tag is present.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugAssert panics with msg if cond is false. This is the debug-build half of the
// "debug assertions guard lifecycle misuse, release elides them" discipline: used for
// use-before-init, use-after-destroy, and double-free checks across pool, arena,
// osdirect, and allocator. No-ops unless the debugalloc build tag is present.
func DebugAssert(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}
