package connector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ajitpratap0/crmsync/pkg/crm"
	"github.com/ajitpratap0/crmsync/pkg/errors"
	"github.com/ajitpratap0/crmsync/pkg/logger"
	"github.com/ajitpratap0/crmsync/pkg/metrics"
	"github.com/ajitpratap0/crmsync/pkg/models"
)

// Factory builds an unstarted client for one credential set.
type Factory func(creds models.Credentials) (crm.Client, error)

// Stats are cumulative registry counters.
type Stats struct {
	Size          int
	Hits          int64
	Misses        int64
	Evictions     int64
	StartFailures int64
}

// Registry caches one Connector per credential fingerprint.
//
// Construction and start are serialized per fingerprint; callers with
// different credentials never wait on each other.
type Registry struct {
	factory Factory
	logger  *zap.Logger

	connectors sync.Map // fingerprint -> *Connector
	locks      sync.Map // fingerprint -> *sync.Mutex

	hits          atomic.Int64
	misses        atomic.Int64
	evictions     atomic.Int64
	startFailures atomic.Int64
}

// NewRegistry creates a registry building clients with factory.
func NewRegistry(factory Factory, log *zap.Logger) *Registry {
	if log == nil {
		log = logger.Get()
	}
	return &Registry{
		factory: factory,
		logger:  log.With(zap.String("component", "connector_registry")),
	}
}

func (r *Registry) lockFor(fingerprint string) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(fingerprint, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Ensure returns the started connector for creds, building it on first use.
//
// A start failure is logged and the connector is still returned; the next
// Ensure retries the start. Only a factory failure is returned as an error.
func (r *Registry) Ensure(ctx context.Context, creds models.Credentials) (*Connector, error) {
	fp := creds.Fingerprint()
	log := logger.FromContext(ctx, r.logger)

	mu := r.lockFor(fp)
	mu.Lock()
	defer mu.Unlock()

	var conn *Connector
	if v, ok := r.connectors.Load(fp); ok {
		r.hits.Add(1)
		conn = v.(*Connector)
	} else {
		r.misses.Add(1)
		client, err := r.factory(creds)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build connector").
				WithDetail("username", creds.Username)
		}
		conn = newConnector(client, fp, r.logger)
		r.connectors.Store(fp, conn)
		metrics.ActiveConnectors.Inc()
		log.Info("connector created", zap.String("username", creds.Username))
	}

	if s := conn.State(); s != StateStarted && s != StateStarting {
		if err := conn.Start(ctx); err != nil {
			r.startFailures.Add(1)
			log.Warn("connector start failed", zap.Error(err))
		}
	}
	return conn, nil
}

// Evict stops and forgets the connector for creds. It reports whether one was cached.
func (r *Registry) Evict(ctx context.Context, creds models.Credentials) bool {
	fp := creds.Fingerprint()

	mu := r.lockFor(fp)
	mu.Lock()
	defer mu.Unlock()

	v, ok := r.connectors.LoadAndDelete(fp)
	if !ok {
		return false
	}
	r.evictions.Add(1)
	metrics.ActiveConnectors.Dec()

	conn := v.(*Connector)
	if s := conn.State(); s != StateStopping && s != StateStopped {
		if err := conn.Stop(ctx); err != nil {
			logger.FromContext(ctx, r.logger).Warn("connector stop failed during eviction", zap.Error(err))
		}
	}
	logger.FromContext(ctx, r.logger).Info("connector evicted")
	return true
}

// Close stops every cached connector and empties the registry.
func (r *Registry) Close(ctx context.Context) error {
	var result *multierror.Error
	r.connectors.Range(func(key, value interface{}) bool {
		fp := key.(string)
		mu := r.lockFor(fp)
		mu.Lock()
		defer mu.Unlock()

		if _, ok := r.connectors.LoadAndDelete(fp); !ok {
			return true
		}
		metrics.ActiveConnectors.Dec()
		if err := value.(*Connector).Stop(ctx); err != nil {
			result = multierror.Append(result, errors.Wrap(err, errors.TypeOf(err), "stop connector "+shortFingerprint(fp)))
		}
		return true
	})
	return result.ErrorOrNil()
}

// Len returns the number of cached connectors.
func (r *Registry) Len() int {
	n := 0
	r.connectors.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Size:          r.Len(),
		Hits:          r.hits.Load(),
		Misses:        r.misses.Load(),
		Evictions:     r.evictions.Load(),
		StartFailures: r.startFailures.Load(),
	}
}
