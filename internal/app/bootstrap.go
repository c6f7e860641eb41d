package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"naimuDriver/internal/config"
	"naimuDriver/internal/driverapi"
	"naimuDriver/internal/offer"
	"naimuDriver/internal/offerlog"
	"naimuDriver/internal/presenter"
	"naimuDriver/internal/push"
	"naimuDriver/internal/queue"
)

const historyCleanupEvery = 6 * time.Hour

type moduleState struct {
	logger      Logger
	api         *driverapi.Client
	membership  offer.QueueMembership
	coordinator *offer.Coordinator
	pushClient  *push.Client
	feed        *presenter.Feed
	adapter     *presenter.Adapter
	history     *offerlog.Repo
	recorder    *offerlog.Recorder
	retention   time.Duration
	events      []string
	subs        []int
	// done is closed when the push loop returns; nil until Start launches it.
	done      chan struct{}
	stopWatch func()
}

func ensureModule(deps *Deps) (*moduleState, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if deps.module != nil {
		return deps.module, nil
	}
	cfg := deps.Config
	token := cfg.Driver.Token
	driverID := driverapi.DriverID(token)

	api := driverapi.NewClient(deps.HTTPClient, cfg.API.BaseURL, token)

	var membership offer.QueueMembership
	switch cfg.Queue.Backend {
	case "redis":
		if driverID == "" {
			return nil, errors.New("driver deps: redis queue needs a driver id in the token")
		}
		membership = queue.NewMembership(deps.RDB, cfg.Driver.City, driverID, deps.Clock)
	default:
		membership = api
	}

	coordinator := offer.NewCoordinator(offer.Config{
		DecisionWindow: config.Duration(cfg.Offer.DecisionWindowMS),
		TickInterval:   config.Duration(cfg.Offer.TickIntervalMS),
		CallTimeout:    config.Duration(cfg.Offer.CallTimeoutMS),
		LeaveQueue: offer.LeaveQueuePolicy{
			OnAccepted:  cfg.Offer.LeaveQueue.OnAccepted,
			OnDismissed: cfg.Offer.LeaveQueue.OnDismissed,
			OnExpired:   cfg.Offer.LeaveQueue.OnExpired,
			OnFailed:    cfg.Offer.LeaveQueue.OnFailed,
		},
	}, api, membership, deps.Clock, deps.Logger)

	pushClient := push.NewClient(push.Config{
		URL:      cfg.API.PushURL,
		Token:    token,
		DriverID: driverID,
		City:     cfg.Driver.City,
	}, deps.Logger)

	var history presenter.History
	var repo *offerlog.Repo
	var recorder *offerlog.Recorder
	if deps.DB != nil {
		repo = offerlog.NewRepo(deps.DB, deps.DBDriver)
		recorder = offerlog.NewRecorder(repo, deps.Clock, deps.Logger)
		history = repo
	}

	feed := presenter.NewFeed(deps.Logger)
	adapter := presenter.NewAdapter(coordinator, history, feed, deps.Logger, config.Duration(cfg.Offer.ResetDelayMS), token)

	deps.module = &moduleState{
		logger:      deps.Logger,
		api:         api,
		membership:  membership,
		coordinator: coordinator,
		pushClient:  pushClient,
		feed:        feed,
		adapter:     adapter,
		history:     repo,
		recorder:    recorder,
		retention:   time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour,
		events:      cfg.Offer.Events,
	}
	return deps.module, nil
}

// Presenter returns the adapter behind the local HTTP API.
func Presenter(deps *Deps) (*presenter.Adapter, error) {
	module, err := ensureModule(deps)
	if err != nil {
		return nil, err
	}
	return module.adapter, nil
}

// Coordinator returns the driver's offer coordinator.
func Coordinator(deps *Deps) (*offer.Coordinator, error) {
	module, err := ensureModule(deps)
	if err != nil {
		return nil, err
	}
	return module.coordinator, nil
}

// Start wires push events into the coordinator and launches background
// workers. They stop when ctx is done; call Shutdown afterwards.
func Start(ctx context.Context, deps *Deps) error {
	module, err := ensureModule(deps)
	if err != nil {
		return err
	}

	if module.history != nil {
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := module.history.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("offer history: %w", err)
		}
		module.stopWatch = module.coordinator.Watch(module.recorder.Observe)
		go module.startHistoryCleanup(ctx)
	}

	module.adapter.Start()
	for _, event := range module.events {
		module.subs = append(module.subs, module.pushClient.Subscribe(event, module.handleOffer))
	}

	done := make(chan struct{})
	module.done = done
	go func() {
		defer close(done)
		if err := module.pushClient.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			module.logger.Errorf("push loop stopped: %v", err)
		}
	}()
	return nil
}

// Shutdown tears the session down on logout or exit: the push loop is awaited,
// the coordinator is closed (releasing a held queue slot) and pending history
// writes are flushed. Teardown runs even when ctx ends before the push loop
// returns or when Start never ran; the ctx error is reported afterwards.
func Shutdown(ctx context.Context, deps *Deps) error {
	module := deps.module
	if module == nil {
		return nil
	}
	var waitErr error
	if module.done != nil {
		select {
		case <-module.done:
		case <-ctx.Done():
			waitErr = fmt.Errorf("wait for push loop: %w", ctx.Err())
		}
	}
	for i, event := range module.events {
		if i < len(module.subs) {
			module.pushClient.Unsubscribe(event, module.subs[i])
		}
	}
	module.adapter.Stop()
	module.coordinator.Close(ctx)
	if module.stopWatch != nil {
		module.stopWatch()
	}
	if module.recorder != nil && waitErr == nil {
		module.recorder.Wait()
	}
	return waitErr
}

func (m *moduleState) handleOffer(ev push.Event) {
	o, err := offer.Decode(ev.Name, ev.Data)
	if err != nil {
		m.logger.Errorf("offer: drop push: %v", err)
		return
	}
	if m.coordinator.OnOfferPush(o) {
		m.logger.Infof("offer: order %s shown %s after push", o.OrderID, time.Since(ev.ReceivedAt).Round(time.Millisecond))
	}
}

func (m *moduleState) startHistoryCleanup(ctx context.Context) {
	ticker := time.NewTicker(historyCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.retention)
			if n, err := m.history.Prune(ctx, cutoff); err != nil {
				m.logger.Errorf("offer history cleanup: %v", err)
			} else if n > 0 {
				m.logger.Infof("offer history cleanup: removed %d entries", n)
			}
		}
	}
}
