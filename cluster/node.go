package cluster

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables from which a Node derives its place in the world
const (
	EnvRank        = "PIOTEST_RANK"
	EnvSize        = "PIOTEST_SIZE"
	EnvCoordinator = "PIOTEST_COORDINATOR"
)

// NodeOptions are options for a Node, configuring its place in a world of ranks
type NodeOptions struct {
	Rank            int           // [REQUIRED] world rank of this Node. Rank 0 coordinates registration.
	Size            int           // [REQUIRED] number of ranks in the world
	Port            int           // port for this Node to bind to (0 picks a free port, except for the Coordinator)
	Host            string        // hostname for this Node to bind to
	CoordinatorPort int           // port for the Coordinator Node
	CoordinatorHost string        // [REQUIRED] hostname of the Coordinator Node
	JoinTimeout     time.Duration // how long the Coordinator should wait for every rank to join
	JoinRetries     int           // how many times a Node should retry registering with the Coordinator (at one second intervals)
	RPCTimeout      time.Duration // timeout for delivering one message
}

// CloneNodeOptions makes a copy of a NodeOptions
func CloneNodeOptions(opts *NodeOptions) *NodeOptions {
	res := *opts
	return &res
}

func ensureDefaultNodeOptionsValues(opts *NodeOptions) error {
	if opts.Size < 1 {
		return fmt.Errorf("NodeOptions.Size must be greater than 0")
	}
	if opts.Rank < 0 || opts.Rank >= opts.Size {
		return fmt.Errorf("NodeOptions.Rank %d is outside a world of %d ranks", opts.Rank, opts.Size)
	}
	if len(opts.CoordinatorHost) == 0 {
		return fmt.Errorf("NodeOptions.CoordinatorHost must be the address of rank 0")
	}
	if len(opts.Host) == 0 {
		opts.Host = "0.0.0.0"
	}
	if opts.CoordinatorPort == 0 {
		opts.CoordinatorPort = 1643
	}
	if opts.Rank == 0 {
		opts.Port = opts.CoordinatorPort
	}
	if opts.RPCTimeout == 0 {
		opts.RPCTimeout = 30 * time.Second
	}
	if opts.JoinTimeout == 0 {
		opts.JoinTimeout = 30 * time.Second
	}
	if opts.JoinRetries == 0 {
		opts.JoinRetries = 10
	}
	return nil
}

// connectionString returns the connection string for this node
func (o *NodeOptions) connectionString() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// coordinatorConnectionString returns the connection string for the coordinator
func (o *NodeOptions) coordinatorConnectionString() string {
	return fmt.Sprintf("%s:%d", o.CoordinatorHost, o.CoordinatorPort)
}

// NodeOptionsFromEnv fills in Rank, Size and the Coordinator address from the environment
func NodeOptionsFromEnv(opts *NodeOptions) error {
	if v := os.Getenv(EnvRank); len(v) > 0 {
		rank, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("$%s=%q is not a rank", EnvRank, v)
		}
		opts.Rank = rank
	}
	if v := os.Getenv(EnvSize); len(v) > 0 {
		size, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("$%s=%q is not a world size", EnvSize, v)
		}
		opts.Size = size
	}
	if v := os.Getenv(EnvCoordinator); len(v) > 0 {
		host, port, err := splitHostPort(v)
		if err != nil {
			return fmt.Errorf("$%s=%q: %v", EnvCoordinator, v, err)
		}
		opts.CoordinatorHost = host
		opts.CoordinatorPort = port
	}
	return nil
}
