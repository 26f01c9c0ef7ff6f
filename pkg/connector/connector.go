package connector

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/crmsync/pkg/crm"
)

// State is the lifecycle stage of a Connector.
type State int32

const (
	StateUnstarted State = iota
	StateStarting
	StateStarted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Connector is a CRM session owned by the Registry.
type Connector struct {
	client      crm.Client
	fingerprint string
	state       atomic.Int32
	logger      *zap.Logger
}

func newConnector(client crm.Client, fingerprint string, logger *zap.Logger) *Connector {
	return &Connector{
		client:      client,
		fingerprint: fingerprint,
		logger:      logger.With(zap.String("fingerprint", shortFingerprint(fingerprint))),
	}
}

// Client returns the session's API client.
func (c *Connector) Client() crm.Client { return c.client }

// Fingerprint returns the credential fingerprint the connector is cached under.
func (c *Connector) Fingerprint() string { return c.fingerprint }

// State returns the current lifecycle state.
func (c *Connector) State() State { return State(c.state.Load()) }

// Start logs in. Starting a started or starting connector is a no-op.
// On failure the connector returns to StateUnstarted so a later Start can retry.
func (c *Connector) Start(ctx context.Context) error {
	for {
		cur := c.State()
		if cur == StateStarted || cur == StateStarting {
			return nil
		}
		if c.state.CompareAndSwap(int32(cur), int32(StateStarting)) {
			break
		}
	}

	if err := c.client.Login(ctx); err != nil {
		c.state.Store(int32(StateUnstarted))
		return err
	}
	c.state.Store(int32(StateStarted))
	c.logger.Debug("connector started")
	return nil
}

// Stop revokes the session. Stopping a stopping or stopped connector is a no-op.
func (c *Connector) Stop(ctx context.Context) error {
	for {
		cur := c.State()
		if cur == StateStopping || cur == StateStopped {
			return nil
		}
		if c.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
			break
		}
	}

	err := c.client.Logout(ctx)
	c.state.Store(int32(StateStopped))
	c.logger.Debug("connector stopped", zap.Error(err))
	return err
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
