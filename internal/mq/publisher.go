package mq

import (
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publisher пишет сообщения в поток.
// Безопасен для конкурентного использования.
type Publisher struct {
	mu     sync.Mutex
	enc    *gob.Encoder
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher поверх w.
func NewPublisher(w io.Writer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		enc:    gob.NewEncoder(w),
		logger: logger,
	}
}

// Publish записывает сообщение. ID и Timestamp заполняются, если пусты.
func (p *Publisher) Publish(msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enc.Encode(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}

	p.logger.Debug("published message",
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return nil
}

// PublishBatch отправляет воркеру пакет задач.
func (p *Publisher) PublishBatch(batch []Invocation) error {
	return p.Publish(&Message{Type: MessageTypeBatch, Batch: batch})
}

// PublishRelease сообщает воркеру, что его Return-сегмент прочитан.
func (p *Publisher) PublishRelease(segment string) error {
	return p.Publish(&Message{Type: MessageTypeRelease, Release: segment})
}

// PublishResults отправляет оркестратору результаты пакета.
func (p *Publisher) PublishResults(worker int, results []Result) error {
	return p.Publish(&Message{Type: MessageTypeResults, Worker: worker, Results: results})
}

// PublishFailure отправляет оркестратору ошибку задачи.
func (p *Publisher) PublishFailure(worker int, failure Failure) error {
	return p.Publish(&Message{Type: MessageTypeFailure, Worker: worker, Failure: &failure})
}
