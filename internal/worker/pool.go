package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	mailQueue      = "queue:mail"
	maxMailRetries = 3
)

const MailVerification = "verification"

// MailJob is one queued email.
type MailJob struct {
	ID         uuid.UUID `json:"id"`
	Kind       string    `json:"kind"`
	To         string    `json:"to"`
	Token      string    `json:"token"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Mailer delivers a single mail.
type Mailer interface {
	SendVerificationEmail(to, token string) error
}

// Pool drains the mail queue with a fixed number of goroutines. Failed
// mails are re-queued with exponential backoff.
type Pool struct {
	redis       *redis.Client
	mailer      Mailer
	workerCount int
	stopChan    chan struct{}
	log         zerolog.Logger
}

func NewPool(redisClient *redis.Client, mailer Mailer, workerCount int, log zerolog.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		redis:       redisClient,
		mailer:      mailer,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
		log:         log,
	}
}

// EnqueueVerification queues a sign-up confirmation mail.
func (p *Pool) EnqueueVerification(ctx context.Context, to, token string) error {
	return p.enqueue(ctx, &MailJob{
		ID:        uuid.New(),
		Kind:      MailVerification,
		To:        to,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	})
}

func (p *Pool) enqueue(ctx context.Context, job *MailJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode mail job: %w", err)
	}
	if err := p.redis.RPush(ctx, mailQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to queue mail: %w", err)
	}
	return nil
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}
	p.log.Info().Int("workers", p.workerCount).Msg("mail workers started")
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int) {
	log := p.log.With().Int("worker", id).Logger()
	for {
		select {
		case <-p.stopChan:
			log.Info().Msg("mail worker shutting down")
			return
		default:
		}

		ctx := context.Background()

		// BLPOP with 30s timeout
		result, err := p.redis.BLPop(ctx, 30*time.Second, mailQueue).Result()
		if err != nil || len(result) < 2 {
			continue
		}

		var job MailJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Error().Err(err).Msg("failed to parse mail job")
			continue
		}

		lockKey := fmt.Sprintf("mail_lock:%s:%d", job.ID, job.RetryCount)
		locked, err := p.redis.SetNX(ctx, lockKey, "1", 10*time.Minute).Result()
		if err != nil || !locked {
			continue
		}

		if err := p.process(&job); err != nil {
			p.handleFailure(ctx, &job, err)
		} else {
			log.Info().Str("job_id", job.ID.String()).Str("kind", job.Kind).Msg("mail delivered")
		}

		p.redis.Del(ctx, lockKey)
	}
}

func (p *Pool) process(job *MailJob) error {
	switch job.Kind {
	case MailVerification:
		return p.mailer.SendVerificationEmail(job.To, job.Token)
	default:
		return fmt.Errorf("unknown mail kind: %s", job.Kind)
	}
}

func (p *Pool) handleFailure(ctx context.Context, job *MailJob, err error) {
	job.RetryCount++
	log := p.log.With().Str("job_id", job.ID.String()).Int("attempt", job.RetryCount).Logger()

	if job.RetryCount >= maxMailRetries {
		log.Error().Err(err).Msg("mail failed permanently")
		return
	}

	backoff := retryBackoff(job.RetryCount)
	log.Warn().Err(err).Dur("backoff", backoff).Msg("mail failed, retrying")
	time.AfterFunc(backoff, func() {
		if err := p.enqueue(context.Background(), job); err != nil {
			log.Error().Err(err).Msg("failed to re-queue mail")
		}
	})
}

func retryBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}
