package display

type AllocateSurfaceCallback func(
	session *Session,
	role SurfaceRole,
	size int,
	offset int,
	userData interface{},
)

type FreeSurfaceCallback func(
	session *Session,
	role SurfaceRole,
	size int,
	offset int,
	userData interface{},
)

// SurfaceCallbackOptions is an optional set of callbacks that will be executed
// when surfaces are allocated from or returned to video memory. It can be
// helpful when the consumer wants session-level accounting of scanout memory.
type SurfaceCallbackOptions struct {
	Allocate AllocateSurfaceCallback
	Free     FreeSurfaceCallback
	UserData interface{}
}

type surfaceCallbacks struct {
	Callbacks *SurfaceCallbackOptions
	Session   *Session
}

func (c *surfaceCallbacks) Allocate(
	role SurfaceRole,
	size int,
	offset int,
) {
	if c.Callbacks != nil && c.Callbacks.Allocate != nil {
		c.Callbacks.Allocate(c.Session, role, size, offset, c.Callbacks.UserData)
	}
}

func (c *surfaceCallbacks) Free(
	role SurfaceRole,
	size int,
	offset int,
) {
	if c.Callbacks != nil && c.Callbacks.Free != nil {
		c.Callbacks.Free(c.Session, role, size, offset, c.Callbacks.UserData)
	}
}
