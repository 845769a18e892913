package comm

import (
	"sync"

	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config carries everything a channel factory needs to build a channel for
// one process.
type Config struct {
	Rank          int
	MachineID     int
	Mapping       mapping.Mapping
	AddressesFile string
	BasePort      int
	Offset        int
	Logger        *logrus.Entry
}

// Factory builds a Channel from a Config. Implementations are selected by
// name through the registry.
type Factory func(Config) (Channel, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// Register makes a channel implementation available under the given name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New builds the channel registered under name.
func New(name string, cfg Config) (Channel, error) {
	registryMu.Lock()
	f, ok := registry[name]
	registryMu.Unlock()

	if !ok {
		return nil, errors.Errorf("no channel implementation registered under %q", name)
	}
	return f(cfg)
}

func init() {
	Register("tcp", func(cfg Config) (Channel, error) {
		resolver, err := NewAddressResolver(cfg.Mapping, cfg.AddressesFile, cfg.BasePort)
		if err != nil {
			return nil, err
		}
		return NewTCPChannel(cfg.Rank, cfg.MachineID, cfg.Mapping, resolver, cfg.Offset, cfg.Logger)
	})
}
