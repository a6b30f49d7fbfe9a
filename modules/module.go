package modules

import (
	"image"

	"github.com/quasar-gfx/QUASAR-client/models"
	"github.com/quasar-gfx/QUASAR-client/reconstruct"
)

// Module is the interface that describes a module that produces the content
// drawn during a streaming session.
type Module interface {
	// Returns the module name.
	Name() string

	// Initializes the module and registers its frame handler on the session.
	// A returned error aborts the session.
	Init(*models.Session) error

	// Handles a session frame. It is called from the session frame dispatch
	// goroutine.
	HandleFrame()

	// Returns a snapshot of the module statistics. It can be called from
	// any goroutine.
	Stats() any

	// Unregisters the module from its session and releases its resources.
	Close()
}

// Frame is a reconstructed mesh ready to be drawn.
type Frame struct {
	// The name of the module that produced the frame.
	Module string

	// The view the mesh belongs to. Live modules only have view 0.
	View int

	// The frame id of the data the mesh was built from.
	FrameID models.FrameID

	Mesh *reconstruct.Mesh

	// The color texture sampled by the mesh. Can be nil.
	Color image.Image

	// The source camera the mesh was unprojected with.
	Camera reconstruct.Camera
}

// Renderer draws the frames produced by modules. Implementations must not
// retain the frame mesh after Draw returns since modules reuse it.
type Renderer interface {
	Draw(Frame)
}
