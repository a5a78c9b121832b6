package media

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// DecoderOptions are passed to a decoder backend when it is opened.
type DecoderOptions struct {
	// Number of buffers in the input and output pools.
	InputBuffers  int
	OutputBuffers int

	// Capacity of each input buffer, in bytes. Frames larger than this
	// cannot be submitted.
	InputBufferSize int

	// Path of an external program the backend runs, if any.
	Command string
}

// A function used to open a specific decoder backend.
type OpenFunc func(opts DecoderOptions) (Decoder, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]OpenFunc{}
)

// RegisterDecoder makes a decoder backend available under name. Backends
// register themselves from init functions.
func RegisterDecoder(name string, open OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = open
}

// Decoders lists the registered backend names.
func Decoders() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var names []string
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenDecoder opens the named backend.
func OpenDecoder(name string, opts DecoderOptions) (Decoder, error) {
	registryMu.RLock()
	open, found := registry[name]
	registryMu.RUnlock()

	if !found {
		log.Debug("Registered decoders: %v", Decoders())
		return nil, errors.Wrapf(errNotFound, "decoder %q", name)
	}
	d, err := open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open decoder %q", name)
	}
	return d, nil
}
