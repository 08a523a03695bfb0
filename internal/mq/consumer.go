package mq

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Handler — функция обработки сообщения.
// Ошибка обработчика останавливает Consumer.Run.
type Handler func(ctx context.Context, msg *Message) error

// Consumer читает сообщения из потока.
type Consumer struct {
	dec    *gob.Decoder
	logger *slog.Logger
	name   string
}

// NewConsumer создаёт новый Consumer поверх r.
// name используется только в логах.
func NewConsumer(r io.Reader, name string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		dec:    gob.NewDecoder(r),
		logger: logger,
		name:   name,
	}
}

// Next блокируется до следующего сообщения.
// Возвращает io.EOF, когда поток закрыт отправителем.
func (c *Consumer) Next() (*Message, error) {
	var msg Message
	if err := c.dec.Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("consume %s: %w", c.name, err)
	}

	c.logger.Debug("received message",
		"queue", c.name,
		"message_id", msg.ID,
		"type", msg.Type,
	)
	return &msg, nil
}

// Run обрабатывает сообщения, пока поток не закрыт, не отменён ctx
// или обработчик не вернул ошибку. Закрытие потока — не ошибка.
//
// Чтение блокирующее: отмена ctx проверяется между сообщениями,
// поэтому для немедленной остановки нужно закрыть сам поток.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := c.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.Error("handler failed",
				"queue", c.name,
				"message_id", msg.ID,
				"type", msg.Type,
				"error", err,
			)
			return err
		}
	}
}
