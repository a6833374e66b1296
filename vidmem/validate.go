package vidmem

// Validatable is used by the DebugValidate method to allow it to act upon
// all types with a Validate method
type Validatable interface {
	Validate() error
}

const (
	// CreatedFillPattern is the byte written across newly-created surfaces in debug
	// builds, so that reads of never-rendered memory are easy to recognize
	CreatedFillPattern uint8 = 0xDC
	// DestroyedFillPattern is the byte written across surfaces as they are destroyed
	// in debug builds, so that use-after-free of scanout memory is easy to recognize
	DestroyedFillPattern uint8 = 0xEF
)
