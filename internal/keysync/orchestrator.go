// Package keysync runs key sync attempts: locate the trust store, check its
// permissions, fetch and extract keys, reconcile, and report.
package keysync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kamikazebr/keydist/internal/config"
	"github.com/kamikazebr/keydist/internal/fetch"
	"github.com/kamikazebr/keydist/internal/keyset"
	"github.com/kamikazebr/keydist/internal/logging"
	"github.com/kamikazebr/keydist/internal/notify"
	"github.com/kamikazebr/keydist/internal/truststore"
	"github.com/kamikazebr/keydist/pkg/version"
)

// Fetcher downloads the key server payload
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Stats tracks sync statistics across attempts
type Stats struct {
	LastSync      time.Time `json:"last_sync"`
	LastSuccess   time.Time `json:"last_success"`
	TotalSyncs    int       `json:"total_syncs"`
	Failures      int       `json:"failures"`
	LastKeysCount int       `json:"last_keys_count"`
	LastDigest    string    `json:"last_digest,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastOutcome   *Outcome  `json:"last_outcome,omitempty"`
}

// Orchestrator runs sync attempts against one trust store
type Orchestrator struct {
	settings   config.Settings
	platform   truststore.Platform
	guard      truststore.Guard
	fetcher    Fetcher
	extractor  *keyset.Extractor
	reconciler *truststore.Reconciler
	sink       notify.Sink
	logger     zerolog.Logger
	newID      func() string
	now        func() time.Time

	runMu sync.Mutex
	mu    sync.Mutex
	stats Stats
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithPlatform replaces the OS platform
func WithPlatform(p truststore.Platform) Option {
	return func(o *Orchestrator) {
		o.platform = p
	}
}

// WithFetcher replaces the HTTP fetcher
func WithFetcher(f Fetcher) Option {
	return func(o *Orchestrator) {
		o.fetcher = f
	}
}

// WithSink replaces the notification sink chosen from the settings
func WithSink(s notify.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator. Invalid settings are rejected before anything
// touches the network or the trust store.
func New(settings config.Settings, logger zerolog.Logger, opts ...Option) (*Orchestrator, error) {
	if _, err := settings.Validate(); err != nil {
		return nil, err
	}

	policy := truststore.AdditiveMerge
	if settings.OverrideExistingKeys {
		policy = truststore.ReplaceAll
	}

	var sink notify.Sink = notify.Nop{}
	if settings.EnableWebhook {
		sink = notify.NewWebhook(settings.WebhookURL)
	}

	o := &Orchestrator{
		settings:  settings,
		platform:  truststore.Current(),
		fetcher:   fetch.New(fetch.WithUserAgent(version.UserAgent())),
		extractor: keyset.NewExtractor(settings.SSHPublicKeyTypes),
		sink:      sink,
		logger:    logging.Component(logger, "keysync"),
		newID:     func() string { return uuid.NewString() },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	o.guard = truststore.Guard{Enabled: settings.CheckPerms, Platform: o.platform}
	o.reconciler = &truststore.Reconciler{
		Policy: policy,
		Backup: settings.BackupExistingKeys,
		Now:    o.now,
	}

	return o, nil
}

// RunOnce performs one full sync attempt and always returns exactly one
// outcome. Failures are reported, never raised. Concurrent calls are
// serialised so only one attempt writes the trust store at a time.
func (o *Orchestrator) RunOnce(ctx context.Context) Outcome {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	started := o.now()
	id := o.newID()
	log := o.logger.With().Str("attempt", id).Logger()

	log.Debug().Str("url", o.settings.KeyServerURL).Str("platform", o.platform.Name()).Msg("sync started")

	paths, result, stage, err := o.run(ctx, log)

	out := Outcome{
		ID:        id,
		Success:   err == nil,
		Kind:      Classify(err),
		Stage:     stage,
		KeysFile:  paths.KeysFile,
		Result:    result,
		Err:       err,
		StartedAt: started,
		Duration:  o.now().Sub(started),
	}
	if err != nil {
		out.Message = fmt.Sprintf("Key sync failed (%s): %v", out.Kind, err)
	} else {
		out.Message = successMessage(paths.KeysFile, result)
		out.Stage = StageReport
	}

	o.report(ctx, log, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, log zerolog.Logger) (truststore.Paths, *truststore.Result, Stage, error) {
	paths, err := o.platform.Locate()
	if err != nil {
		return paths, nil, StageLocate, err
	}
	log.Debug().Str("keys_file", paths.KeysFile).Msg("trust store located")

	if err := o.guard.Check(paths.KeysFile); err != nil {
		return paths, nil, StageCheckPerms, err
	}

	data, err := o.fetcher.Fetch(ctx, o.settings.KeyServerURL)
	if err != nil {
		return paths, nil, StageFetch, err
	}
	log.Debug().Int("bytes", len(data)).Bool("archive", keyset.IsZip(data)).Msg("key material downloaded")

	keys, err := o.extractor.Extract(data)
	if err != nil {
		return paths, nil, StageExtract, err
	}
	if keys.Len() == 0 && o.reconciler.Policy == truststore.ReplaceAll {
		log.Warn().Str("keys_file", paths.KeysFile).Msg("key server returned no keys; trust store will be emptied")
	}

	result, err := o.reconciler.Apply(paths, keys)
	if err != nil {
		return paths, nil, StageReconcile, err
	}

	for _, line := range result.Added {
		log.Info().Str("fingerprint", keyset.Fingerprint(line)).Str("key", keyset.Preview(line, 50)).Msg("key added")
	}
	for _, line := range result.Removed {
		log.Info().Str("fingerprint", keyset.Fingerprint(line)).Str("key", keyset.Preview(line, 50)).Msg("key removed")
	}
	if result.Backup != "" {
		log.Info().Str("backup", result.Backup).Msg("previous trust store backed up")
	}
	for _, err := range result.OwnershipErrors {
		log.Warn().Err(err).Msg("could not restore file ownership")
	}

	// The rename leaves the new file with the directory's default
	// permissions (inherited ACL on Windows), so the guard runs again.
	if result.Changed {
		if err := o.guard.Check(paths.KeysFile); err != nil {
			return paths, result, StageCheckPerms, err
		}
	}

	return paths, result, StageReconcile, nil
}

// report logs the outcome, records it and forwards it to the sink
func (o *Orchestrator) report(ctx context.Context, log zerolog.Logger, out Outcome) {
	o.record(out)

	status := notify.StatusSuccess
	if out.Success {
		ev := log.Info().Dur("duration", out.Duration)
		if out.Result != nil {
			ev = ev.Str("policy", out.Result.Policy.String()).
				Int("added", len(out.Result.Added)).
				Int("removed", len(out.Result.Removed)).
				Int("total", out.Result.Total).
				Bool("changed", out.Result.Changed).
				Str("digest", out.Result.Digest)
		}
		ev.Msg(out.Message)
	} else {
		status = notify.StatusError
		log.Error().Err(out.Err).Str("kind", string(out.Kind)).Str("stage", string(out.Stage)).Msg(out.Message)
	}

	n := notify.Notification{
		Hostname: o.settings.HostName,
		Message:  out.Message,
		Status:   status,
	}
	if err := o.sink.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Msg("failed to send notification")
	}
}

func (o *Orchestrator) record(out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stats.LastSync = out.StartedAt
	o.stats.TotalSyncs++
	o.stats.LastOutcome = &out

	if !out.Success {
		o.stats.Failures++
		o.stats.LastError = out.Message
		return
	}

	o.stats.LastSuccess = out.StartedAt
	o.stats.LastError = ""
	if out.Result != nil {
		o.stats.LastKeysCount = out.Result.Total
		o.stats.LastDigest = out.Result.Digest
	}
}

// Stats returns a copy of the sync statistics
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Settings returns the settings the orchestrator was built with
func (o *Orchestrator) Settings() config.Settings {
	return o.settings
}

func successMessage(keysFile string, r *truststore.Result) string {
	switch {
	case r == nil:
		return "Keys synced"
	case !r.Changed:
		return fmt.Sprintf("%s already matches reference keys (%d keys)", keysFile, r.Total)
	case r.Policy == truststore.ReplaceAll:
		return fmt.Sprintf("Synchronised %s with reference keys (%d added, %d removed, %d total)",
			keysFile, len(r.Added), len(r.Removed), r.Total)
	default:
		return fmt.Sprintf("Updated %s with reference keys (%d added, %d total)",
			keysFile, len(r.Added), r.Total)
	}
}
