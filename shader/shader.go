// Package shader resolves logical shader paths to SPIR-V bytecode.
//
// A Library looks paths up in its registered bytecode first and then in an
// fs.FS: files ending in .wgsl are compiled with naga, files ending in .spv
// are read as little-endian SPIR-V words. Results are cached, so each path
// is compiled at most once while it stays in the cache.
package shader

import (
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"

	"github.com/gogpu/framegraph/internal/cache"
	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/naga"
)

//go:embed shaders/*.wgsl
var builtinFS embed.FS

// BlitPath is the logical path of the built-in full-screen blit shader.
const BlitPath = "builtin/blit.wgsl"

// DefaultCacheSize is the soft limit of the compiled-module cache.
const DefaultCacheSize = 128

var (
	// ErrNotFound is returned when a path is neither registered nor present
	// in the library's file system.
	ErrNotFound = errors.New("shader: not found")

	// ErrInvalidSPIRV is returned for .spv files whose size is not a
	// multiple of four bytes.
	ErrInvalidSPIRV = errors.New("shader: invalid SPIR-V")
)

// Compile compiles WGSL source to SPIR-V words.
func Compile(wgslSource string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgslSource)
	if err != nil {
		return nil, fmt.Errorf("compile wgsl: %w", err)
	}
	return Words(spirvBytes)
}

// Words converts little-endian SPIR-V bytes to words.
func Words(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSPIRV, len(b))
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words, nil
}

// Option configures a Library.
type Option func(*options)

type options struct {
	cacheSize int
	builtins  bool
}

func defaultOptions() options {
	return options{cacheSize: DefaultCacheSize, builtins: true}
}

// WithCacheSize sets the soft limit of the compiled-module cache.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithoutBuiltins hides the built-in shaders under builtin/.
func WithoutBuiltins() Option {
	return func(o *options) { o.builtins = false }
}

// Library maps logical paths to SPIR-V.
//
// Library is safe for concurrent use.
type Library struct {
	fsys     fs.FS
	builtins bool

	mu         sync.RWMutex
	registered map[string][]uint32

	compiled *cache.Cache[string, []uint32]
}

// NewLibrary creates a library reading from fsys, which may be nil.
func NewLibrary(fsys fs.FS, opts ...Option) *Library {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Library{
		fsys:       fsys,
		builtins:   o.builtins,
		registered: make(map[string][]uint32),
		compiled:   cache.New[string, []uint32](o.cacheSize),
	}
}

// Register stores precompiled bytecode under path, shadowing any file.
func (l *Library) Register(path string, spirv []uint32) {
	l.mu.Lock()
	l.registered[path] = spirv
	l.mu.Unlock()
	l.compiled.Delete(path)
}

// RegisterWGSL compiles src and stores it under path.
func (l *Library) RegisterWGSL(path, src string) error {
	spirv, err := Compile(src)
	if err != nil {
		return fmt.Errorf("shader %q: %w", path, err)
	}
	l.Register(path, spirv)
	return nil
}

// Load returns the bytecode for path.
func (l *Library) Load(p string) ([]uint32, error) {
	l.mu.RLock()
	spirv, ok := l.registered[p]
	l.mu.RUnlock()
	if ok {
		return spirv, nil
	}
	return l.compiled.GetOrCreate(p, func() ([]uint32, error) {
		return l.loadFile(p)
	})
}

func (l *Library) loadFile(p string) ([]uint32, error) {
	fsys, name := l.fsys, p
	if l.builtins && path.Dir(p) == "builtin" {
		fsys, name = builtinFS, "shaders/"+path.Base(p)
	}
	if fsys == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}

	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("read shader %q: %w", p, err)
	}

	var spirv []uint32
	switch path.Ext(p) {
	case ".wgsl":
		spirv, err = Compile(string(data))
	case ".spv":
		spirv, err = Words(data)
	default:
		return nil, fmt.Errorf("%w: %s has no .wgsl or .spv extension", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("shader %q: %w", p, err)
	}
	logging.Logger().Debug("shader: loaded", "path", p, "words", len(spirv))
	return spirv, nil
}

// Stats returns the compiled-module cache statistics.
func (l *Library) Stats() cache.Stats { return l.compiled.Stats() }
