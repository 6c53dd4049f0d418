package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"gopherai-rag/internal/app"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/pkg/errs"
	"gopherai-rag/internal/pkg/logutil"
)

type Ingester interface {
	Ingest(ctx context.Context, in app.IngestInput) (*app.IngestResult, error)
}

// IngestWorker consumes queued ingest jobs and runs them through the same
// pipeline as synchronous uploads.
type IngestWorker struct {
	conn      *amqp.Connection
	ingester  Ingester
	queueName string
	prefetch  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, ingester Ingester, queueName string, prefetch int) *IngestWorker {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &IngestWorker{
		conn:      conn,
		ingester:  ingester,
		queueName: queueName,
		prefetch:  prefetch,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker prefetch failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	logutil.GetLogger(ctx).Info("ingest worker started", zap.String("queue", w.queueName))
	return nil
}

// handle acks a finished job, drops jobs that can never succeed and gives
// transient failures one more delivery.
func (w *IngestWorker) handle(ctx context.Context, d amqp.Delivery) {
	logger := logutil.GetLogger(ctx).With(zap.String("message_id", d.MessageId))

	var job model.IngestJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		logger.Error("decode ingest job failed", zap.Error(err))
		_ = d.Reject(false)
		return
	}
	logger = logger.With(
		zap.String("job_id", job.JobID),
		zap.String("collection", job.Collection),
		zap.String("document_id", job.DocumentID),
	)

	res, err := w.ingester.Ingest(logutil.WithLogger(ctx, logger), app.IngestInput{
		DocumentID:     job.DocumentID,
		Collection:     job.Collection,
		EmbeddingModel: job.EmbeddingModel,
		Text:           job.Text,
		FileName:       job.FileName,
		ChunkSize:      job.ChunkSize,
		ChunkOverlap:   job.ChunkOverlap,
		Extra:          job.Extra,
	})
	if err == nil {
		logger.Info("ingest job done", zap.Int("chunks", res.Chunks))
		_ = d.Ack(false)
		return
	}

	switch errs.KindOf(err) {
	case errs.KindValidation, errs.KindModelMismatch, errs.KindDimensionMismatch, errs.KindCollectionNotFound:
		logger.Warn("ingest job rejected", zap.Error(err))
		_ = d.Reject(false)
	default:
		requeue := !d.Redelivered
		logger.Error("ingest job failed", zap.Bool("requeue", requeue), zap.Error(err))
		_ = d.Nack(false, requeue)
	}
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
