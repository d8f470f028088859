package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// WordSize is the size in bytes of a machine word on the user stack.
	WordSize = uintptr(4)

	// UserFloor is the lowest virtual address that may belong to a user
	// program; executables are linked at this address.
	UserFloor = uintptr(0x08048000)

	// PhysBase marks the user/kernel boundary. Every user virtual address
	// is strictly below PhysBase and the user stack grows down from it.
	PhysBase = uintptr(0xc0000000)
)
