// Package app assembles the survey worker from its configuration.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"github.com/InternetOfUs/app-survey/internal/api"
	"github.com/InternetOfUs/app-survey/internal/audit"
	"github.com/InternetOfUs/app-survey/internal/common/auth"
	"github.com/InternetOfUs/app-survey/internal/common/camunda"
	"github.com/InternetOfUs/app-survey/internal/common/clock"
	"github.com/InternetOfUs/app-survey/internal/common/config"
	"github.com/InternetOfUs/app-survey/internal/common/database"
	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/common/observability"
	"github.com/InternetOfUs/app-survey/internal/common/profileapi"
	"github.com/InternetOfUs/app-survey/internal/ledger"
	"github.com/InternetOfUs/app-survey/internal/notify"
	"github.com/InternetOfUs/app-survey/internal/pipeline"
	"github.com/InternetOfUs/app-survey/internal/queue"
	"github.com/InternetOfUs/app-survey/internal/rules"
	recoverprofile "github.com/InternetOfUs/app-survey/internal/workers/profile/recover-profile"
	sweepfailures "github.com/InternetOfUs/app-survey/internal/workers/profile/sweep-failures"
	updateprofile "github.com/InternetOfUs/app-survey/internal/workers/profile/update-profile"
)

// Options overrides collaborators that are otherwise built from the configuration.
type Options struct {
	Clock      clock.Clock
	HTTPClient *http.Client
	Store      ledger.Store
	Notifier   pipeline.Notifier
}

type App struct {
	cfg       *config.Config
	log       logger.Logger
	obs       *observability.Observability
	service   *pipeline.Service
	queue     queue.Queue
	scheduler *pipeline.Scheduler
	handler   http.Handler
	zeebe     *camunda.Client
	workers   []*camunda.Worker
	closers   []func()
}

// New connects every backend named in cfg. Connection failures are retried with backoff
// before giving up.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*App, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	a := &App{cfg: cfg, log: log}

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		log.Warn("OpenTelemetry meter unavailable", map[string]interface{}{"error": err.Error()})
	}
	a.obs = obs

	store := opts.Store
	if store == nil {
		err := retryWithBackoff(ctx, func() error {
			var closeFn func()
			var err error
			store, closeFn, err = ledger.Open(ctx, cfg)
			if err == nil {
				a.closers = append(a.closers, closeFn)
			}
			return err
		}, 10, 2*time.Second, log, "ledger "+cfg.Ledger.Backend)
		if err != nil {
			return nil, err
		}
	}
	log.Info("Ledger ready", map[string]interface{}{"backend": cfg.Ledger.Backend})

	manager, err := rules.LoadManager(cfg.Rules.CataloguePath, opts.Clock, log)
	if err != nil {
		a.close()
		return nil, err
	}
	log.Info("Rule catalogue loaded", map[string]interface{}{
		"path":  cfg.Rules.CataloguePath,
		"rules": manager.Len(),
	})

	gateway := profileapi.NewClient(cfg.ProfileAPI, tokenSource(cfg, opts.HTTPClient))
	if opts.HTTPClient != nil {
		gateway = gateway.WithHTTPClient(opts.HTTPClient)
	}

	orchestrator := pipeline.NewOrchestrator(gateway, manager, pipeline.OrchestratorOptions{
		Pacing: config.GetDuration(cfg.Pipeline.WritePacingDelay),
		Clock:  opts.Clock,
	}, log)

	svcOpts := pipeline.ServiceOptions{
		MaxRetries:    cfg.Pipeline.MaxRetries,
		Clock:         opts.Clock,
		Notifier:      opts.Notifier,
		Observability: obs,
	}
	if svcOpts.Notifier == nil {
		if svcOpts.Notifier, err = notify.New(ctx, cfg.Notifications); err != nil {
			a.close()
			return nil, err
		}
	}

	ready := map[string]api.Check{
		"ledger": func(ctx context.Context) error {
			_, err := store.GetLastSuccess(ctx, "readiness-probe")
			if stderrors.Is(err, ledger.ErrNotFound) {
				return nil
			}
			return err
		},
	}

	if cfg.Audit.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			a.close()
			return nil, err
		}
		svcOpts.Auditor = audit.NewIndexer(es.Client, cfg.Audit.Index)
		ready["elasticsearch"] = es.Ping
	}

	a.service = pipeline.NewService(orchestrator, store, svcOpts, log)

	sweepDriven := false
	switch cfg.Queue.Transport {
	case config.TransportZeebe:
		if sweepDriven, err = a.startZeebe(ctx); err != nil {
			a.close()
			return nil, err
		}
		ready["zeebe"] = a.zeebe.HealthCheck
	default:
		a.queue = queue.NewLocalQueue(cfg.Queue.Workers, cfg.Queue.Buffer, a.service.HandleTask, log)
	}

	if !sweepDriven && cfg.Pipeline.SweepInterval > 0 {
		a.scheduler = pipeline.NewScheduler(a.service, a.queue, config.GetDuration(cfg.Pipeline.SweepInterval), log)
	}

	a.handler = api.New(api.Config{
		Queue:       a.queue,
		Failures:    a.service,
		TallySecret: cfg.Server.WebhookToken,
		Ready:       ready,
		Logger:      log,
	})
	return a, nil
}

// startZeebe connects to the broker and opens the job workers. It reports whether the
// sweep is driven by a BPMN timer through the sweep-failures worker.
func (a *App) startZeebe(ctx context.Context) (bool, error) {
	err := retryWithBackoff(ctx, func() error {
		var err error
		a.zeebe, err = camunda.NewClient(a.cfg.Camunda)
		return err
	}, 10, 2*time.Second, a.log, "Zeebe client initialization")
	if err != nil {
		return false, err
	}
	a.log.Info("Zeebe client connected", map[string]interface{}{"broker": a.cfg.Camunda.BrokerAddress})

	a.queue = queue.NewZeebeQueue(a.zeebe, map[queue.Kind]string{
		queue.KindUpdate:  a.cfg.Camunda.UpdateProcessID,
		queue.KindRecover: a.cfg.Camunda.RecoverProcess,
	}, a.log)

	if cfg := updateprofile.ConfigFrom(a.cfg); cfg.Enabled {
		h, err := updateprofile.NewHandler(cfg, a.service, a.log)
		if err != nil {
			return false, err
		}
		a.openWorker(updateprofile.TaskType, h.Handle, cfg.MaxJobsActive, cfg.Timeout)
	}

	if cfg := recoverprofile.ConfigFrom(a.cfg); cfg.Enabled {
		h, err := recoverprofile.NewHandler(cfg, a.service, a.log)
		if err != nil {
			return false, err
		}
		a.openWorker(recoverprofile.TaskType, h.Handle, cfg.MaxJobsActive, cfg.Timeout)
	}

	cfg := sweepfailures.ConfigFrom(a.cfg)
	if !cfg.Enabled {
		return false, nil
	}
	h, err := sweepfailures.NewHandler(cfg, a.service, a.queue, a.log)
	if err != nil {
		return false, err
	}
	a.openWorker(sweepfailures.TaskType, h.Handle, cfg.MaxJobsActive, cfg.Timeout)
	return true, nil
}

func (a *App) openWorker(taskType string, handler func(worker.JobClient, entities.Job), maxJobs int, timeout time.Duration) {
	a.workers = append(a.workers, a.zeebe.OpenWorker(taskType, handler, camunda.WorkerOptions{
		MaxJobsActive: maxJobs,
		Timeout:       timeout,
	}, a.log))
}

func (a *App) Handler() http.Handler      { return a.handler }
func (a *App) Service() *pipeline.Service { return a.service }
func (a *App) Queue() queue.Queue         { return a.queue }

// Run serves HTTP and runs the sweep scheduler until ctx ends, then shuts down within
// shutdownTimeout.
func (a *App) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         a.cfg.Server.Address,
		Handler:      a.handler,
		ReadTimeout:  config.GetDuration(a.cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(a.cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	if a.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.scheduler.Run(ctx)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("HTTP server listening", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.log.Info("Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("HTTP server shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	wg.Wait()
	if err := a.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown stops the job workers, drains the queue and releases backends.
func (a *App) Shutdown(ctx context.Context) error {
	for _, w := range a.workers {
		w.Stop()
	}
	var err error
	if a.queue != nil {
		err = a.queue.Close(ctx)
	}
	if a.zeebe != nil {
		if cerr := a.zeebe.Close(); cerr != nil {
			a.log.Error("Error closing Zeebe client", map[string]interface{}{"error": cerr.Error()})
		}
	}
	if oerr := a.obs.Shutdown(ctx); oerr != nil {
		a.log.Warn("Meter provider shutdown failed", map[string]interface{}{"error": oerr.Error()})
	}
	a.close()
	return err
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// tokenSource prefers the OAuth2 client-credentials grant and falls back to the static
// API key.
func tokenSource(cfg *config.Config, hc *http.Client) auth.TokenSource {
	if cfg.Auth.TokenURL != "" {
		return auth.NewClientCredentials(cfg.Auth, hc)
	}
	return auth.Static(cfg.ProfileAPI.APIKey)
}

func retryWithBackoff(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		if err = operation(); err == nil {
			return nil
		}
		if i == maxRetries-1 {
			break
		}
		log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
			"error":       err.Error(),
			"attempt":     i + 1,
			"maxRetries":  maxRetries,
			"nextRetryIn": delay.String(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled: %w", operationName, ctx.Err())
		}
		delay *= 2
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}
