package comm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"strconv"

	"github.com/meshlearn/meshlearn/src/mapping"
	"github.com/pkg/errors"
)

// DefaultBasePort is the start of the port range when no explicit base is
// configured. A node listens on basePort + offset + uid, so the evaluation
// overlay (offset = star size) can never collide with the main overlay
// (offset = 0).
const DefaultBasePort = 9000

// AddressResolver turns a uid into network addresses. An optional JSON file
// maps machine IDs to hosts; without it every machine is assumed to be
// localhost.
type AddressResolver struct {
	mapping  mapping.Mapping
	basePort int
	hosts    map[int]string
}

// NewAddressResolver builds a resolver from an optional addresses file. The
// file holds a JSON object mapping machine IDs to host strings, e.g.
// {"0": "10.0.0.1", "1": "10.0.0.2"}. An empty path means localhost for
// every machine.
func NewAddressResolver(m mapping.Mapping, addressesFile string, basePort int) (*AddressResolver, error) {
	if basePort == 0 {
		basePort = DefaultBasePort
	}

	r := &AddressResolver{
		mapping:  m,
		basePort: basePort,
		hosts:    map[int]string{},
	}

	if addressesFile == "" {
		return r, nil
	}

	buf, err := ioutil.ReadFile(addressesFile)
	if err != nil {
		return nil, errors.Wrapf(err, "reading addresses file %s", addressesFile)
	}

	raw := map[string]string{}
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrapf(err, "parsing addresses file %s", addressesFile)
	}

	for k, host := range raw {
		machineID, err := strconv.Atoi(k)
		if err != nil {
			return nil, errors.Wrapf(err, "addresses file key %q is not a machine id", k)
		}
		r.hosts[machineID] = host
	}

	return r, nil
}

// Port returns the port on which uid listens for the overlay identified by
// offset.
func (r *AddressResolver) Port(uid, offset int) int {
	return r.basePort + offset + uid
}

// ListenAddr returns the local bind address for uid.
func (r *AddressResolver) ListenAddr(uid, offset int) string {
	return fmt.Sprintf(":%d", r.Port(uid, offset))
}

// DialAddr returns the remote address under which uid is reachable.
func (r *AddressResolver) DialAddr(uid, offset int) (string, error) {
	_, machineID, err := r.mapping.GetRankMachine(uid)
	if err != nil {
		return "", err
	}

	host, ok := r.hosts[machineID]
	if !ok {
		host = "127.0.0.1"
	}

	return fmt.Sprintf("%s:%d", host, r.Port(uid, offset)), nil
}
