// Package app is the composition root: it turns an AppConfig into a running
// coordinator with its worker, state, provider and UI hub.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/inboxdigest/internal/audit"
	"github.com/nhle/inboxdigest/internal/bus"
	"github.com/nhle/inboxdigest/internal/coordinator"
	"github.com/nhle/inboxdigest/internal/credential"
	"github.com/nhle/inboxdigest/internal/httpapi"
	"github.com/nhle/inboxdigest/internal/isolation"
	"github.com/nhle/inboxdigest/internal/mail"
	"github.com/nhle/inboxdigest/internal/model"
	"github.com/nhle/inboxdigest/internal/nlp"
	"github.com/nhle/inboxdigest/internal/state"
	"github.com/nhle/inboxdigest/internal/summarizer"
	isync "github.com/nhle/inboxdigest/internal/sync"
	"github.com/nhle/inboxdigest/internal/ui"
	"github.com/nhle/inboxdigest/internal/worker"
)

// workerURL names the single worker instance the manager looks after.
const workerURL = "inboxdigest://worker"

// App is a fully wired inboxdigest instance.
type App struct {
	Config      *model.AppConfig
	Coordinator *coordinator.Coordinator
	Hub         *ui.Hub
	State       *state.State
	Transport   bus.Transport

	closers []func()
}

type options struct {
	provider   mail.Provider
	capability summarizer.Capability
	creds      *credential.Store
}

// Option overrides a dependency Build would otherwise construct.
type Option func(*options)

// WithProvider uses p instead of the provider named in the config.
func WithProvider(p mail.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithCapability uses c as the summarization backend.
func WithCapability(c summarizer.Capability) Option {
	return func(o *options) { o.capability = c }
}

// WithCredentials uses s instead of opening the system keyring.
func WithCredentials(s *credential.Store) Option {
	return func(o *options) { o.creds = s }
}

// Build wires every component described by cfg. Nothing runs until Start.
func Build(ctx context.Context, cfg *model.AppConfig, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	kv, err := state.Open(ctx, cfg.Storage.StateDSN)
	if err != nil {
		return nil, fmt.Errorf("opening coordinator state: %w", err)
	}
	a.State = state.New(kv, cfg.Sync.RecentLimit)
	a.closers = append(a.closers, func() { _ = a.State.Close() })

	creds := o.creds
	if creds == nil {
		creds, err = credential.Open()
		if err != nil {
			log.Printf("[app] keyring unavailable, using environment only: %v", err)
			creds, err = nil, nil
		}
	}

	provider := o.provider
	if provider == nil {
		provider, err = NewProvider(ctx, cfg, creds)
		if err != nil {
			return nil, err
		}
	}

	capability := o.capability
	if capability == nil {
		capability, err = newCapability(cfg.Summarizer, creds)
		if err != nil {
			return nil, err
		}
	}
	stage := summarizer.NewStage(capability, seconds(cfg.Summarizer.TimeoutSec), cfg.Summarizer.CharBudget)
	a.closers = append(a.closers, func() { _ = stage.Close() })

	host, err := a.buildTransport(cfg)
	if err != nil {
		return nil, err
	}
	manager := isolation.NewManager(host, workerURL, a.Transport)
	client := worker.NewClient(manager)

	a.Coordinator = coordinator.New(a.Transport, provider, client, stage, a.State, coordinator.Config{
		Sync: isync.Config{
			Interval:       seconds(cfg.Sync.PollIntervalSec),
			TrimInterval:   seconds(cfg.Sync.DedupTrimIntervalSec),
			DedupHighWater: cfg.Sync.DedupHighWater,
			DedupKeep:      cfg.Sync.DedupKeep,
		},
		Retention: time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour,
	})
	a.Hub = ui.NewHub(a.Transport)
	return a, nil
}

// closableHost is an isolation.Host that owns worker processes or
// goroutines.
type closableHost interface {
	isolation.Host
	Close()
}

// buildTransport picks the bus transport and the matching worker host.
func (a *App) buildTransport(cfg *model.AppConfig) (isolation.Host, error) {
	var host closableHost

	switch cfg.Transport.Mode {
	case "", "memory":
		t := bus.NewMemoryTransport()
		a.Transport = t
		host = isolation.NewLocalHost(func() (func(), error) {
			w := worker.New(cfg.Storage.DBPath, nlp.New(), audit.New(cfg.Storage.AuditCapacity))
			stop, err := worker.Serve(t, w)
			if err != nil {
				return nil, err
			}
			return func() {
				stop()
				_ = w.Close()
			}, nil
		})

	case "nats":
		nc, err := nats.Connect(cfg.Transport.NATSURL, nats.Name("inboxdigest-coordinator"))
		if err != nil {
			return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.Transport.NATSURL, err)
		}
		a.closers = append(a.closers, nc.Close)

		t, err := bus.NewNATSTransport(nc, cfg.Transport.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		a.Transport = t
		host = isolation.NewProcessHost(cfg.Transport.WorkerBinary, WorkerArgs(cfg), t)

	default:
		return nil, fmt.Errorf("unknown transport mode %q", cfg.Transport.Mode)
	}

	a.closers = append(a.closers, host.Close)
	return host, nil
}

// WorkerArgs are the flags a spawned inboxdigest-worker needs to join the
// same bus and open the same database.
func WorkerArgs(cfg *model.AppConfig) []string {
	return []string{
		"-nats", cfg.Transport.NATSURL,
		"-prefix", cfg.Transport.SubjectPrefix,
		"-db", cfg.Storage.DBPath,
		"-audit", strconv.Itoa(cfg.Storage.AuditCapacity),
	}
}

// Start initializes the worker database and starts answering the UI.
func (a *App) Start(ctx context.Context) error {
	stop, err := a.Coordinator.Start(ctx)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, stop)
	return nil
}

// Run drives the coordinator and, when enabled, the HTTP API until ctx is
// done.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Coordinator.Run(ctx) })

	if a.Config.HTTP.Enabled {
		router, err := a.Router()
		if err != nil {
			return err
		}
		g.Go(func() error { return httpapi.ListenAndServe(ctx, a.Config.HTTP.Addr, router) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Router builds the HTTP API over this app's coordinator and hub.
func (a *App) Router() (*gin.Engine, error) {
	v, err := bus.NewValidator()
	if err != nil {
		return nil, err
	}
	return httpapi.NewRouter(httpapi.NewHandler(a.Coordinator), httpapi.NewBridge(a.Hub, v)), nil
}

// WatchConfig applies poll interval changes from path while the app runs.
func (a *App) WatchConfig(path string) {
	model.WatchConfig(path, func(cfg *model.AppConfig) {
		if cfg.Sync.PollIntervalSec <= 0 {
			return
		}
		d := seconds(cfg.Sync.PollIntervalSec)
		log.Printf("[app] poll interval now %s", d)
		a.Coordinator.Orchestrator().SetInterval(d)
	})
}

// Close releases everything Build and Start acquired, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
