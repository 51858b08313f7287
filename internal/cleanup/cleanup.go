// Package cleanup periodically removes garbage facts and stale
// conversations.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hoornet/home-mind/internal/memory"
)

const (
	// startupGrace delays the first run so cleanup never competes with
	// process startup.
	startupGrace = 30 * time.Second

	// maxConversationAge is how long an idle conversation survives.
	maxConversationAge = 24 * time.Hour
)

// Result summarizes one cleanup run.
type Result struct {
	UsersProcessed       int
	FactsAnalyzed        int
	FactsDeleted         int
	ConversationsDeleted int
}

// Job runs cleanup on a fixed interval.
type Job struct {
	facts         memory.FactStore
	conversations memory.ConversationStore
	interval      time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a cleanup job. An interval of zero or less disables it.
func New(facts memory.FactStore, conversations memory.ConversationStore, interval time.Duration, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		facts:         facts,
		conversations: conversations,
		interval:      interval,
		logger:        logger.With("component", "cleanup"),
	}
}

// Start launches the background loop. The first run happens after a
// short grace period, then every interval. No-op when disabled.
func (j *Job) Start() {
	if j.interval <= 0 {
		j.logger.Info("cleanup disabled")
		return
	}

	j.stop = make(chan struct{})
	j.done = make(chan struct{})
	j.logger.Info("cleanup scheduled", "interval", j.interval)

	go j.loop()
}

// Stop shuts the background loop down and waits for it to exit.
func (j *Job) Stop() {
	if j.stop == nil {
		return
	}
	close(j.stop)
	<-j.done
}

func (j *Job) loop() {
	defer close(j.done)

	grace := time.NewTimer(startupGrace)
	defer grace.Stop()
	select {
	case <-j.stop:
		return
	case <-grace.C:
	}
	j.run()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.run()
		}
	}
}

// run executes one pass unless a previous one is still going.
func (j *Job) run() {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		j.logger.Warn("previous cleanup still running, skipping")
		return
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	result, err := j.RunOnce(context.Background())
	if err != nil {
		j.logger.Error("cleanup run failed", "error", err)
		return
	}
	j.logger.Info("cleanup complete",
		"users", result.UsersProcessed,
		"facts_analyzed", result.FactsAnalyzed,
		"facts_deleted", result.FactsDeleted,
		"conversations_deleted", result.ConversationsDeleted,
	)
}

// RunOnce sweeps every known user's facts through the garbage filter
// and drops stale conversations. A failure for one user is logged and
// does not stop the run.
func (j *Job) RunOnce(ctx context.Context) (Result, error) {
	var result Result

	users, err := j.conversations.KnownUsers()
	if err != nil {
		return result, err
	}

	for _, userID := range users {
		facts, err := j.facts.GetFacts(ctx, userID)
		if err != nil {
			j.logger.Warn("skipping user, fact load failed", "user_id", userID, "error", err)
			continue
		}
		result.UsersProcessed++
		result.FactsAnalyzed += len(facts)

		for _, f := range facts {
			confidence := f.Confidence
			reason := memory.GarbageReason(f.Content, &confidence)
			if reason == "" {
				continue
			}
			ok, err := j.facts.DeleteFact(ctx, userID, f.ID)
			if err != nil {
				j.logger.Warn("failed to delete garbage fact", "fact_id", f.ID, "error", err)
				continue
			}
			if ok {
				result.FactsDeleted++
				j.logger.Info("deleted garbage fact",
					"user_id", userID,
					"fact_id", f.ID,
					"reason", reason,
					"content", f.Content,
				)
			}
		}
	}

	deleted, err := j.conversations.CleanupOld(maxConversationAge)
	if err != nil {
		j.logger.Warn("conversation cleanup failed", "error", err)
	} else {
		result.ConversationsDeleted = deleted
	}

	return result, nil
}
