package wazero

import (
	"fmt"

	"github.com/vg-engine/vg/runtime"
)

func init() {
	runtime.Register(Name, newBackend)
}

// newBackend is the registry factory. config may be nil, a Config or a *Config.
func newBackend(config any) (runtime.Backend, error) {
	switch cfg := config.(type) {
	case nil:
		return New(nil)
	case *Config:
		return New(cfg)
	case Config:
		return New(&cfg)
	default:
		return nil, fmt.Errorf("wazero: unsupported config type %T", config)
	}
}
