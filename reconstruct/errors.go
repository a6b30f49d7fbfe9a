package reconstruct

// ErrTypeCapacity is the type of the errors returned when a proxy window does
// not fit the reconstruction buffers.
const ErrTypeCapacity = "capacity_error"
