package gpu

import (
	"fmt"
	"runtime"

	"github.com/go-gl/gl/v4.5-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
)

func init() {
	// GLFW event handling must run on the main OS thread.
	runtime.LockOSThread()
}

// Context owns a GL context bound to a (possibly hidden) window. All buffer
// operations require a current context.
type Context struct {
	window *glfw.Window
}

// NewContext initializes GLFW and creates a context. With hidden set, no
// window surface is shown; useful for headless buffer work.
func NewContext(width, height int, title string, hidden bool) (*Context, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("gpu: failed to initialize glfw: %w", err)
	}

	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 5)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.Resizable, glfw.False)
	if hidden {
		glfw.WindowHint(glfw.Visible, glfw.False)
	}

	window, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("gpu: could not create window: %w", err)
	}
	window.MakeContextCurrent()

	if err := gl.Init(); err != nil {
		window.Destroy()
		glfw.Terminate()
		return nil, fmt.Errorf("gpu: could not init opengl: %w", err)
	}

	return &Context{window: window}, nil
}

// Window exposes the underlying window for event polling and swapping.
func (c *Context) Window() *glfw.Window {
	return c.window
}

// Close destroys the window and terminates GLFW.
func (c *Context) Close() {
	if c.window != nil {
		c.window.Destroy()
		c.window = nil
	}
	glfw.Terminate()
}
