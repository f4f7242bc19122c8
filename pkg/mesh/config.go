// Package mesh binds the core, transport and gateway subsystems into one
// self-forming, self-healing overlay node: a MeshCore owning a single
// cooperative Scheduler, its Connections, and the bridge/gateway/offline
// queue collaborators.
package mesh

import (
	"time"

	"github.com/go-mesh/mesh/pkg/mesh/core"
	"github.com/go-mesh/mesh/pkg/mesh/gateway"
	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// Config is the single typed record a Core is constructed from — no
// external configuration language, per spec.md's explicit Non-goal.
type Config struct {
	Self             types.NodeID
	IsRoot           bool
	HasTimeAuthority bool
	IsBridge         bool

	NodeSyncInterval time.Duration
	NodeSyncTimeout  time.Duration

	ConnectMaxRetries     int
	ConnectRetryBaseDelay time.Duration
	ConnectBackoffCap     int
	ClientCleanupDelay    time.Duration
	DeletionSpacing       time.Duration
	ExhaustionReconnectWait time.Duration
	FailureBlockDuration  time.Duration

	BridgeStatusInterval time.Duration
	BridgeTimeout        time.Duration
	MaxKnownBridges      int

	HealthCheckHost     string
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration

	InternetRequestTimeout time.Duration
	InternetRetryCount     int
	InternetRetryBaseDelay time.Duration

	MaxTrackedMessages       int
	DuplicateTrackingTimeout uint32

	OfflineQueueCapacity   int
	OfflineQueueMaxRetries int

	Logger types.Logger
}

// DefaultConfig returns the tunables of §7 of spec.md pre-filled for
// self, mirroring the teacher's DefaultConfiguration constructor.
func DefaultConfig(self types.NodeID) Config {
	return Config{
		Self: self,

		NodeSyncInterval: core.NodeSyncInterval,
		NodeSyncTimeout:  core.NodeSyncTimeout,

		ConnectMaxRetries:       core.ConnectMaxRetries,
		ConnectRetryBaseDelay:   core.ConnectRetryBaseDelay,
		ConnectBackoffCap:       core.ConnectBackoffCap,
		ClientCleanupDelay:      core.ClientCleanupDelay,
		DeletionSpacing:         core.DefaultDeletionSpacing,
		ExhaustionReconnectWait: core.ExhaustionReconnectWait,
		FailureBlockDuration:    core.FailureBlockDuration,

		BridgeStatusInterval: gateway.BridgeStatusInterval,
		BridgeTimeout:        gateway.BridgeTimeout,
		MaxKnownBridges:      gateway.MaxKnownBridges,

		HealthCheckHost:     gateway.HealthCheckHost,
		HealthCheckInterval: gateway.HealthCheckInterval,
		HealthCheckTimeout:  gateway.HealthCheckTimeout,

		InternetRequestTimeout: gateway.InternetRequestTimeout,
		InternetRetryCount:     gateway.InternetRetryCount,
		InternetRetryBaseDelay: gateway.InternetRetryBaseDelay,

		MaxTrackedMessages:       core.MaxTrackedMessages,
		DuplicateTrackingTimeout: core.DuplicateTrackingTimeout,

		OfflineQueueCapacity:   gateway.OfflineQueueCapacity,
		OfflineQueueMaxRetries: gateway.OfflineQueueMaxRetries,
	}
}
