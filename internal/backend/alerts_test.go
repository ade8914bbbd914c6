package backend_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/health-dashboard/internal/backend"
	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/pkg/mq"
	"procodus.dev/health-dashboard/pkg/mq/mock"
	"procodus.dev/health-dashboard/pkg/vitals"
)

// recordingAck is an amqp.Acknowledger that remembers the outcome.
type recordingAck struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
}

func (a *recordingAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *recordingAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *recordingAck) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

func (a *recordingAck) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks
}

// memSink is an in-memory AlertSink keyed like the unique index.
type memSink struct {
	mu     sync.Mutex
	alerts map[[2]int64]*backend.RiskAlert
	err    error
}

func newMemSink() *memSink {
	return &memSink{alerts: map[[2]int64]*backend.RiskAlert{}}
}

func (s *memSink) SaveAlert(_ context.Context, alert *backend.RiskAlert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	key := [2]int64{int64(alert.PatientID), alert.EntryID}
	if _, ok := s.alerts[key]; ok {
		return false, nil
	}
	s.alerts[key] = alert
	return true, nil
}

func (s *memSink) all() []*backend.RiskAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*backend.RiskAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a)
	}
	return out
}

func riskView(patientID uint, entryID int64, label vitals.Label) *dashboard.PatientView {
	r := vitals.NewReading(entryID, time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC), 39.5, 750, 600, 15, 70, 30)
	return &dashboard.PatientView{
		Patient: dashboard.PatientRef{ID: patientID, Username: "pat"},
		Current: &r,
		Label:   label,
		Series:  []vitals.Reading{r},
	}
}

var _ = Describe("Risk alerts", func() {
	var (
		logger    *slog.Logger
		client    *mock.MockClient
		publisher *backend.AlertPublisher
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError + 4,
		}))
		client = mock.NewMockClient()

		var err error
		publisher, err = backend.NewAlertPublisher(&backend.AlertPublisherConfig{
			Logger:    logger,
			Publisher: client,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewAlertPublisher", func() {
		It("should validate its config", func() {
			_, err := backend.NewAlertPublisher(nil)
			Expect(err).To(HaveOccurred())
			_, err = backend.NewAlertPublisher(&backend.AlertPublisherConfig{Publisher: client})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
			_, err = backend.NewAlertPublisher(&backend.AlertPublisherConfig{Logger: logger})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Notify", func() {
		It("should publish a risk once per patient reading", func() {
			publisher.Notify(riskView(4, 100, vitals.LabelRisk))
			publisher.Notify(riskView(4, 100, vitals.LabelRisk))
			publisher.Notify(riskView(4, 101, vitals.LabelFallRisk))
			publisher.Notify(riskView(5, 100, vitals.LabelRisk))
			publisher.Wait()

			published := client.Published()
			Expect(published).To(HaveLen(3))

			ids := []string{}
			for _, m := range published {
				Expect(m.ContentType).To(Equal(mq.ContentTypeProtobuf))
				ids = append(ids, m.MessageID)
			}
			Expect(ids).To(ConsistOf("4:100", "4:101", "5:100"))
		})

		It("should ignore views that are not risks", func() {
			publisher.Notify(nil)
			publisher.Notify(riskView(4, 1, vitals.LabelNormal))
			publisher.Notify(riskView(4, 2, vitals.LabelNoData))
			publisher.Notify(riskView(4, 3, vitals.LabelModelError))
			publisher.Notify(&dashboard.PatientView{Label: vitals.LabelRisk})
			publisher.Wait()

			Expect(client.Published()).To(BeEmpty())
		})

		It("should retry a reading whose publish failed", func() {
			client.PublishError = errors.New("broker down")
			publisher.Notify(riskView(4, 100, vitals.LabelRisk))
			publisher.Wait()

			client.PublishError = nil
			publisher.Notify(riskView(4, 100, vitals.LabelRisk))
			publisher.Wait()

			Expect(client.Published()).To(HaveLen(2))
		})
	})

	Describe("Consumer", func() {
		var (
			deliveries chan amqp.Delivery
			consumerMQ *mock.MockClient
			sink       *memSink
			consumer   *backend.Consumer
			ctx        context.Context
			cancel     context.CancelFunc
		)

		deliver := func(body []byte) *recordingAck {
			ack := &recordingAck{}
			deliveries <- amqp.Delivery{Acknowledger: ack, Body: body}
			return ack
		}

		BeforeEach(func() {
			deliveries = make(chan amqp.Delivery)
			consumerMQ = mock.NewMockClient()
			consumerMQ.ConsumeChannel = deliveries
			sink = newMemSink()

			var err error
			consumer, err = backend.NewConsumer(&backend.ConsumerConfig{
				Logger:   logger,
				Sink:     sink,
				MQClient: consumerMQ,
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel = context.WithCancel(context.Background())
			Expect(consumer.Start(ctx)).To(Succeed())
		})

		AfterEach(func() {
			cancel()
			Expect(consumer.Stop()).To(Succeed())
			Expect(consumerMQ.CloseCalls).To(Equal(1))
		})

		It("should store what the publisher sends", func() {
			publisher.Notify(riskView(4, 100, vitals.LabelFallRisk))
			publisher.Wait()
			msg := client.Published()[0]

			ack := deliver(msg.Body)
			Eventually(func() int { a, _ := ack.counts(); return a }).Should(Equal(1))

			stored := sink.all()
			Expect(stored).To(HaveLen(1))
			Expect(stored[0].PatientID).To(Equal(uint(4)))
			Expect(stored[0].EntryID).To(Equal(int64(100)))
			Expect(stored[0].Label).To(Equal(string(vitals.LabelFallRisk)))
			Expect(stored[0].ReadingAt).To(BeTemporally("==", time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)))
			Expect(stored[0].DetectedAt).NotTo(BeZero())
			Expect(stored[0].Payload).To(Equal(msg.Body))
		})

		It("should ack and keep one row for a redelivered alert", func() {
			publisher.Notify(riskView(4, 100, vitals.LabelRisk))
			publisher.Wait()
			body := client.Published()[0].Body

			first := deliver(body)
			second := deliver(body)
			Eventually(func() int { a, _ := second.counts(); return a }).Should(Equal(1))
			Expect(first.counts()).To(Equal(1))
			Expect(sink.all()).To(HaveLen(1))
		})

		It("should drop malformed bodies", func() {
			ack := deliver([]byte("definitely not protobuf"))
			Eventually(func() int { a, _ := ack.counts(); return a }).Should(Equal(1))
			Expect(sink.all()).To(BeEmpty())
		})

		It("should requeue when the store fails", func() {
			sink.err = errors.New("db down")
			publisher.Notify(riskView(4, 100, vitals.LabelRisk))
			publisher.Wait()

			ack := deliver(client.Published()[0].Body)
			Eventually(func() int { _, n := ack.counts(); return n }).Should(Equal(1))
			Expect(ack.requeue).To(BeTrue())
		})
	})

	Describe("NewConsumer", func() {
		It("should validate its config", func() {
			_, err := backend.NewConsumer(nil)
			Expect(err).To(HaveOccurred())
			_, err = backend.NewConsumer(&backend.ConsumerConfig{Sink: newMemSink(), MQClient: mock.NewMockClient()})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
			_, err = backend.NewConsumer(&backend.ConsumerConfig{Logger: logger, MQClient: mock.NewMockClient()})
			Expect(err).To(HaveOccurred())
			_, err = backend.NewConsumer(&backend.ConsumerConfig{Logger: logger, Sink: newMemSink()})
			Expect(err).To(HaveOccurred())
		})

		It("should give up when the broker never becomes ready", func() {
			m := mock.NewMockClient()
			m.ConsumeError = errors.New("not connected")
			c, err := backend.NewConsumer(&backend.ConsumerConfig{
				Logger:       logger,
				Sink:         newMemSink(),
				MQClient:     m,
				StartTimeout: 200 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Start(context.Background())).To(MatchError(ContainSubstring("not connected")))
		})

		It("should stop promptly when it was never started", func() {
			m := mock.NewMockClient()
			c, err := backend.NewConsumer(&backend.ConsumerConfig{Logger: logger, Sink: newMemSink(), MQClient: m})
			Expect(err).NotTo(HaveOccurred())

			start := time.Now()
			Expect(c.Stop()).To(Succeed())
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
			Expect(m.CloseCalls).To(Equal(1))

			Expect(c.Start(context.Background())).To(MatchError(ContainSubstring("consumer stopped")))
		})
	})

	Describe("Consumer across a broker reconnect", func() {
		It("should resubscribe and keep storing alerts", func() {
			first := make(chan amqp.Delivery)
			second := make(chan amqp.Delivery)
			m := mock.NewMockClient()
			m.ConsumeFunc = func() (<-chan amqp.Delivery, error) {
				if m.ConsumeCalls == 1 {
					return first, nil
				}
				return second, nil
			}

			sink := newMemSink()
			c, err := backend.NewConsumer(&backend.ConsumerConfig{Logger: logger, Sink: sink, MQClient: m})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Start(context.Background())).To(Succeed())

			close(first)
			Eventually(m.Consumes).Should(Equal(2))

			publisher.Notify(riskView(9, 300, vitals.LabelRisk))
			publisher.Wait()
			ack := &recordingAck{}
			second <- amqp.Delivery{Acknowledger: ack, Body: client.Published()[0].Body}

			Eventually(func() int { a, _ := ack.counts(); return a }).Should(Equal(1))
			Expect(sink.all()).To(HaveLen(1))
			Expect(sink.all()[0].EntryID).To(Equal(int64(300)))

			start := time.Now()
			Expect(c.Stop()).To(Succeed())
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		})
	})
})
