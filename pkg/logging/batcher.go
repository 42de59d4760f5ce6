package logging

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/labring/testreport/pkg/client"
	"github.com/labring/testreport/pkg/common"
	apierrors "github.com/labring/testreport/pkg/errors"
	"github.com/labring/testreport/pkg/imageconv"
)

// run is the consumer loop. Events stay queued until the item handle settles,
// so events emitted before the item is known are neither lost nor reordered.
func (c *Context) run() {
	defer close(c.done)

	id, ok, err := c.itemID.Wait(context.Background())
	if err != nil || !ok {
		c.discard(err)
		return
	}

	var sends errgroup.Group
	sends.SetLimit(c.cfg.SendWorkers)

	batch := make([]*common.SaveLogRQ, 0, c.cfg.BatchSize)
	for {
		builders, more := c.next()
		if !more {
			break
		}
		for _, build := range builders {
			rq := c.build(id, build)
			if rq == nil {
				continue
			}
			batch = append(batch, rq)
			if len(batch) == c.cfg.BatchSize {
				c.send(&sends, id, batch)
				batch = make([]*common.SaveLogRQ, 0, c.cfg.BatchSize)
			}
		}
	}
	if len(batch) > 0 {
		c.send(&sends, id, batch)
	}

	_ = sends.Wait()
}

// discard drains the queue of a context whose item never resolved
func (c *Context) discard(cause error) {
	dropped := 0
	for {
		builders, more := c.next()
		if !more {
			break
		}
		dropped += len(builders)
	}

	if dropped > 0 || cause != nil {
		attrs := []any{slog.Int("dropped", dropped)}
		if cause != nil {
			attrs = append(attrs, slog.String("error", cause.Error()))
		}
		c.cfg.Logger.Debug("test item unavailable, log events discarded", attrs...)
	}
}

func (c *Context) build(itemID string, build Builder) *common.SaveLogRQ {
	rq := build(itemID)
	if rq == nil {
		return nil
	}

	if c.cfg.ConvertImages && rq.File != nil && imageconv.IsImage(rq.File.ContentType) {
		content, contentType, err := imageconv.Convert(rq.File.Content)
		if err != nil {
			c.cfg.Logger.Warn("image conversion failed, sending original",
				slog.String("item_id", itemID),
				slog.String("file", rq.File.Name),
				slog.String("error", err.Error()),
			)
			return rq
		}
		rq.File.Content = content
		rq.File.ContentType = contentType
	}
	return rq
}

func (c *Context) send(g *errgroup.Group, itemID string, batch []*common.SaveLogRQ) {
	payload := client.NewLogPayload(batch)
	g.Go(func() error {
		if _, err := c.sender.Log(context.Background(), payload); err != nil {
			deliveryErr := &apierrors.PipelineDeliveryError{ItemID: itemID, BatchSize: len(batch), Err: err}
			c.cfg.Logger.Error("failed to deliver log batch",
				slog.String("item_id", itemID),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()),
			)
			if c.cfg.OnError != nil {
				c.cfg.OnError(deliveryErr)
			}
		}
		// Delivery errors never stop later batches
		return nil
	})
}
