package payment_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/tagfinder/internal/core/events"
	paymentpkg "github.com/frahmantamala/tagfinder/internal/payment"
	"github.com/frahmantamala/tagfinder/pkg/logger"
)

type queueRecorder struct {
	mu   sync.Mutex
	jobs []paymentpkg.EnrichmentJob
}

func (q *queueRecorder) Enqueue(job paymentpkg.EnrichmentJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

func (q *queueRecorder) queued() []paymentpkg.EnrichmentJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]paymentpkg.EnrichmentJob(nil), q.jobs...)
}

var _ = Describe("EventHandler", func() {
	var (
		queue *queueRecorder
		bus   *events.EventBus
	)

	BeforeEach(func() {
		queue = &queueRecorder{}
		bus = events.NewEventBus(logger.Discard())
		paymentpkg.NewEventHandler(queue, logger.Discard()).RegisterEventHandlers(bus)
	})

	publish := func(e events.Event) {
		bus.Publish(context.Background(), e)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		Expect(bus.Drain(ctx)).To(Succeed())
	}

	It("queues a detail fetch for webhook captures", func() {
		publish(events.NewPaymentCapturedEvent(5, 42, "order_abc", "pay_123", events.SourceWebhook, false))

		Expect(queue.queued()).To(ConsistOf(paymentpkg.EnrichmentJob{RecordID: 5, PaymentID: "pay_123"}))
	})

	It("skips client verifications", func() {
		publish(events.NewPaymentCapturedEvent(5, 42, "order_abc", "pay_123", events.SourceClientVerify, false))
		Expect(queue.queued()).To(BeEmpty())
	})

	It("skips captures without a payment id", func() {
		publish(events.NewPaymentCapturedEvent(5, 42, "order_abc", "", events.SourceWebhook, true))
		Expect(queue.queued()).To(BeEmpty())
	})

	It("only logs failures", func() {
		publish(events.NewPaymentFailedEvent(5, 42, "order_abc", events.SourceWebhook))
		Expect(queue.queued()).To(BeEmpty())
	})

	It("rejects the wrong event type", func() {
		h := paymentpkg.NewEventHandler(queue, logger.Discard())
		err := h.HandlePaymentCaptured(context.Background(), events.NewPaymentFailedEvent(5, 42, "order_abc", events.SourceWebhook))
		Expect(err).To(HaveOccurred())
	})
})
