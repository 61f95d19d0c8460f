package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	amqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/driftsync/engine/internal/config"
	"github.com/driftsync/engine/internal/dashboard"
	"github.com/driftsync/engine/internal/domain/breaker"
	"github.com/driftsync/engine/internal/domain/capture"
	"github.com/driftsync/engine/internal/domain/cursor"
	"github.com/driftsync/engine/internal/domain/echocache"
	"github.com/driftsync/engine/internal/domain/gc"
	"github.com/driftsync/engine/internal/domain/hlc"
	"github.com/driftsync/engine/internal/domain/hooks"
	"github.com/driftsync/engine/internal/domain/model"
	"github.com/driftsync/engine/internal/domain/outbox"
	"github.com/driftsync/engine/internal/domain/provider"
	"github.com/driftsync/engine/internal/domain/providerregistry"
	"github.com/driftsync/engine/internal/domain/resolver"
	"github.com/driftsync/engine/internal/domain/storex"
	"github.com/driftsync/engine/internal/domain/subscription"
	"github.com/driftsync/engine/internal/infra/buntstore"
	directprov "github.com/driftsync/engine/internal/infra/provider/direct"
	gatewayprov "github.com/driftsync/engine/internal/infra/provider/gateway"
	"github.com/driftsync/engine/internal/infra/restclient"
)

// NewApp wires every domain and infra component into a single fx.App,
// the way the teacher's NewWatermillRouter wires Watermill's router into
// fx.Lifecycle — each long-running component arms its own OnStart/OnStop
// hook rather than being driven by an external main loop.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			provideScope,
			provideTableNames,
			provideStore,
			provideTableRegistry,
			provideClock,
			provideEchoCache,
			provideCursorManager,
			provideCaptureBridge,
			provideResolver,
			provideBreakerRegistry,
			provideHooksBus,
			provideRestClient,
			provideActiveProvider,
			provideProviderRegistry,
			provideOutboxManager,
			provideGcManager,
			provideSubscriptionManager,
			provideDashboardHub,
			provideChiRouter,
		),
		fx.Invoke(
			wireCaptureToStore,
			runOutboxManager,
			runGcManager,
			runSubscriptionManager,
			runDashboardServer,
		),
	)
}

func ProvideLogger() *slog.Logger {
	return slog.Default()
}

func provideScope(cfg *config.Config) model.Scope {
	return model.Scope{WorkspaceID: cfg.Engine.WorkspaceID, ProjectID: cfg.Engine.ProjectID}
}

func provideTableRegistry() *model.TableRegistry {
	return model.NewTableRegistry()
}

func provideTableNames(tables *model.TableRegistry) []string {
	names := make([]string, len(model.DefaultTables))
	for i, t := range model.DefaultTables {
		names[i] = t.Name
	}
	return names
}

func provideStore(lc fx.Lifecycle, cfg *config.Config) (storex.Store, error) {
	store, err := buntstore.Open(cfg.Engine.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Engine.StorePath, err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return store.Close() },
	})
	return store, nil
}

func provideClock() *hlc.Clock {
	// No DeviceStore adapter exists over storex; the in-process fallback
	// regenerates a device id on every process restart.
	return hlc.New(nil)
}

func provideEchoCache() *echocache.Cache {
	return echocache.New()
}

func provideCursorManager(store storex.Store) *cursor.Manager {
	return cursor.New(store)
}

func provideCaptureBridge(clock *hlc.Clock, tables *model.TableRegistry) *capture.Bridge {
	return capture.New(clock, tables)
}

// wireCaptureToStore attaches the capture bridge's write interceptor to
// the store's dispatch path (spec §4.4 "WriteCaptureBridge sits between
// the host's write call and storage").
func wireCaptureToStore(store storex.Store, tables []string, bridge *capture.Bridge) {
	store.OnWrite(tables, bridge.OnWriteListener())
}

func provideResolver(store storex.Store, bridge *capture.Bridge) *resolver.Resolver {
	return resolver.New(store, bridge)
}

func provideBreakerRegistry() *breaker.Registry {
	return breaker.New()
}

func provideHooksBus(log *slog.Logger) *hooks.Bus {
	return hooks.New(log)
}

func provideRestClient(cfg *config.Config) *restclient.Client {
	return restclient.New(cfg.Engine.ProviderID, cfg.Engine.GatewayURL,
		restclient.WithAuthToken(func() string { return cfg.Engine.AuthToken }))
}

// provideActiveProvider builds whichever provider.Provider implementation
// cfg.Engine.ProviderMode selects (spec §4.9 "Provider abstraction"), both
// sharing the one restclient for pull/push/updateCursor/gc.
func provideActiveProvider(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger, client *restclient.Client) (provider.Provider, error) {
	switch cfg.Engine.ProviderMode {
	case "direct":
		subCfg := amqp.NewDurablePubSubConfig(cfg.Engine.AMQPURL, amqp.GenerateQueueNameTopicName)
		subscriber, err := amqp.NewSubscriber(subCfg, watermill.NewSlogLogger(log))
		if err != nil {
			return nil, fmt.Errorf("amqp subscriber: %w", err)
		}
		p := directprov.New(cfg.Engine.ProviderID, client, subscriber)
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return p.Dispose() }})
		return p, nil
	default:
		gw := gatewayprov.New(cfg.Engine.ProviderID, client,
			gatewayprov.WithPollInterval(cfg.Gateway.PollInterval()),
			gatewayprov.WithJitterMax(cfg.Gateway.JitterMax()))
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return gw.Dispose() }})
		return gw, nil
	}
}

func provideProviderRegistry(lc fx.Lifecycle, p provider.Provider) *providerregistry.Registry {
	reg := providerregistry.New()
	reg.Register(p)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return reg.SetActive(p.ID()) },
	})
	return reg
}

func provideOutboxManager(scope model.Scope, cfg *config.Config, store storex.Store, p provider.Provider, echoCache *echocache.Cache, breakers *breaker.Registry, bus *hooks.Bus) *outbox.Manager {
	return outbox.New(scope, cfg.Engine.ProviderID, store, p, echoCache, breakers,
		outbox.WithConfig(cfg.Outbox.ToDomain()),
		outbox.WithHooks(outboxHooks{bus}))
}

func runOutboxManager(lc fx.Lifecycle, m *outbox.Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return m.Start(ctx) },
		OnStop:  func(context.Context) error { m.Stop(); return nil },
	})
}

func provideGcManager(scope model.Scope, cfg *config.Config, store storex.Store, p provider.Provider, breakers *breaker.Registry, bus *hooks.Bus) *gc.Manager {
	var gcp gc.GcCapable
	if capable, ok := p.(gc.GcCapable); ok {
		gcp = capable
	}
	return gc.New(scope, cfg.Engine.ProviderID, store, gcp, breakers,
		gc.WithInterval(cfg.Gc.Interval()),
		gc.WithRetention(cfg.Gc.Retention()),
		gc.WithHooks(gcHooks{bus}))
}

func runGcManager(lc fx.Lifecycle, m *gc.Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { m.Start(ctx); return nil },
		OnStop:  func(context.Context) error { m.Stop(); return nil },
	})
}

func provideSubscriptionManager(
	scope model.Scope,
	cfg *config.Config,
	tables []string,
	store storex.Store,
	p provider.Provider,
	cursorMgr *cursor.Manager,
	resolverMgr *resolver.Resolver,
	bridge *capture.Bridge,
	clock *hlc.Clock,
	echoCache *echocache.Cache,
	breakers *breaker.Registry,
	bus *hooks.Bus,
) *subscription.Manager {
	return subscription.New(scope, cfg.Engine.ProviderID, clock.DeviceID(), tables, store, p, cursorMgr, resolverMgr, bridge, echoCache, breakers,
		subscription.WithHooks(subscriptionHooks{bus}))
}

func runSubscriptionManager(lc fx.Lifecycle, m *subscription.Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { go m.Start(context.Background()); return nil },
		OnStop:  func(context.Context) error { m.Stop(); return nil },
	})
}

func provideDashboardHub(bus *hooks.Bus) (*dashboard.Hub, error) {
	return dashboard.New(bus)
}

func provideChiRouter(log *slog.Logger, hub *dashboard.Hub) *chi.Mux {
	r := chi.NewRouter()
	dashboard.Mount(r, hub, log)
	return r
}

func runDashboardServer(lc fx.Lifecycle, cfg *config.Config, router *chi.Mux, log *slog.Logger) {
	srv := &http.Server{Addr: cfg.Engine.DashboardAddr, Handler: router}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("dashboard server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error { return srv.Shutdown(ctx) },
	})
}
