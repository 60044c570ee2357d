package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/procflow/orchestrator/internal/scheduler/redbeat"
)

// BeatConfig tunes the beat loop.
type BeatConfig struct {
	ScanInterval   time.Duration
	BatchSize      int
	ProcessorCount int
}

// DefaultBeatConfig returns the default beat tuning.
func DefaultBeatConfig() BeatConfig {
	return BeatConfig{
		ScanInterval:   time.Second,
		BatchSize:      100,
		ProcessorCount: 4,
	}
}

// Beat scans the entry store for due schedules and fires them. A
// scanner goroutine feeds claimed entries to a pool of processors; the
// claim advances the entry's slot first, so concurrent beats on the
// same store fire each slot once.
type Beat struct {
	entries *redbeat.Store
	service *Service
	config  BeatConfig
	logger  *slog.Logger

	stopCh  chan struct{}
	entryCh chan *redbeat.Entry

	running bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewBeat creates a beat loop over the given entry store.
func NewBeat(entries *redbeat.Store, service *Service, config BeatConfig, logger *slog.Logger) *Beat {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.ProcessorCount <= 0 {
		config.ProcessorCount = 4
	}
	return &Beat{
		entries: entries,
		service: service,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
		entryCh: make(chan *redbeat.Entry, config.BatchSize),
	}
}

// Start launches the scanner and processors.
func (b *Beat) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("beat is already running")
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.mu.Unlock()

	b.logger.Info("starting schedule beat",
		slog.Duration("scan_interval", b.config.ScanInterval),
		slog.Int("processor_count", b.config.ProcessorCount),
	)

	b.wg.Add(1)
	go b.runScanner(ctx)

	for i := 0; i < b.config.ProcessorCount; i++ {
		b.wg.Add(1)
		go b.runProcessor(ctx)
	}
	return nil
}

// Stop shuts the beat down, waiting up to the context deadline.
func (b *Beat) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("schedule beat stopped")
	case <-ctx.Done():
		b.logger.Warn("schedule beat stop timed out")
	}
	return nil
}

func (b *Beat) runScanner(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.scan(ctx)
		}
	}
}

func (b *Beat) scan(ctx context.Context) {
	now := time.Now().UTC()
	due, err := b.entries.Due(ctx, now, b.config.BatchSize)
	if err != nil {
		b.logger.Error("failed to scan due entries", slog.String("error", err.Error()))
		return
	}

	for _, entry := range due {
		claimed, err := b.entries.Claim(ctx, entry, now)
		if err != nil {
			b.logger.Error("failed to claim entry",
				slog.String("entry", entry.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !claimed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case b.entryCh <- entry:
		}
	}
}

func (b *Beat) runProcessor(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case entry := <-b.entryCh:
			if err := b.service.FireEntry(ctx, entry); err != nil {
				b.logger.Error("entry fire failed",
					slog.String("entry", entry.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			b.logger.Info("entry fired",
				slog.String("entry", entry.Name),
				slog.String("task", entry.TaskName),
			)
		}
	}
}
