package mq_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/health-dashboard/pkg/mq"
	"procodus.dev/health-dashboard/pkg/mq/mock"
)

var _ = Describe("MQ Client", func() {
	var logger *slog.Logger

	newClient := func(url string) *mq.Client {
		client, err := mq.NewClient(&mq.ClientConfig{
			Logger: logger,
			URL:    url,
			Queue:  "risk-alerts",
		})
		Expect(err).NotTo(HaveOccurred())
		return client
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError + 4,
		}))
	})

	Describe("NewClient", func() {
		It("should return error with nil config", func() {
			client, err := mq.NewClient(nil)
			Expect(err).To(HaveOccurred())
			Expect(client).To(BeNil())
		})

		It("should return error with nil logger", func() {
			_, err := mq.NewClient(&mq.ClientConfig{URL: "amqp://localhost:5672", Queue: "q"})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		})

		It("should return error without URL or queue", func() {
			_, err := mq.NewClient(&mq.ClientConfig{Logger: logger, Queue: "q"})
			Expect(err).To(HaveOccurred())
			_, err = mq.NewClient(&mq.ClientConfig{Logger: logger, URL: "amqp://localhost:5672"})
			Expect(err).To(HaveOccurred())
		})

		It("should start disconnected and keep the queue name", func() {
			client := newClient("amqp://invalid:5672")
			defer func() { _ = client.Close() }()

			Expect(client.Queue()).To(Equal("risk-alerts"))
			Expect(client.Ready()).To(BeFalse())
		})
	})

	Describe("Publish", func() {
		Context("when not connected", func() {
			It("should stop retrying when the context ends", func() {
				client := newClient("amqp://invalid:5672")
				defer func() { _ = client.Close() }()

				ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
				defer cancel()

				start := time.Now()
				err := client.Publish(ctx, mq.Message{Body: []byte("alert")})
				Expect(err).To(MatchError(context.DeadlineExceeded))
				Expect(time.Since(start)).To(BeNumerically(">=", 100*time.Millisecond))
			})

			It("should give up after the maximum number of attempts", func() {
				client := newClient("amqp://invalid:5672")
				defer func() { _ = client.Close() }()

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				start := time.Now()
				err := client.Publish(ctx, mq.Message{Body: []byte("alert")})
				elapsed := time.Since(start)

				Expect(err).To(MatchError(ContainSubstring("maximum retry attempts exceeded")))
				// 100ms + 200ms + 400ms + 800ms + 1600ms of backoff
				Expect(elapsed).To(BeNumerically(">=", 3*time.Second))
				Expect(elapsed).To(BeNumerically("<", 10*time.Second))
			})

			It("should return shutdown once closed", func() {
				client := newClient("amqp://invalid:5672")
				errCh := make(chan error, 1)
				go func() {
					errCh <- client.Publish(context.Background(), mq.Message{Body: []byte("alert")})
				}()

				time.Sleep(50 * time.Millisecond)
				_ = client.Close()

				Eventually(errCh, 2*time.Second).Should(Receive(MatchError(ContainSubstring("shutting down"))))
			})

			It("should fail PublishUnconfirmed immediately", func() {
				client := newClient("amqp://invalid:5672")
				defer func() { _ = client.Close() }()

				err := client.PublishUnconfirmed(context.Background(), mq.Message{Body: []byte("alert")})
				Expect(err).To(MatchError(ContainSubstring("not connected")))
			})
		})
	})

	Describe("Consume", func() {
		It("should return error when not connected", func() {
			client := newClient("amqp://invalid:5672")
			defer func() { _ = client.Close() }()

			_, err := client.Consume()
			Expect(err).To(MatchError(ContainSubstring("not connected")))
		})
	})

	Describe("Close", func() {
		It("should report already closed without a connection", func() {
			client := newClient("amqp://invalid:5672")
			time.Sleep(50 * time.Millisecond)

			Expect(client.Close()).To(MatchError(ContainSubstring("already closed")))
			Expect(client.Close()).To(MatchError(ContainSubstring("already closed")))
		})

		It("should tolerate concurrent calls", func() {
			client := newClient("amqp://invalid:5672")

			done := make(chan struct{}, 3)
			for range 3 {
				go func() {
					_ = client.Close()
					done <- struct{}{}
				}()
			}
			for range 3 {
				Eventually(done).Should(Receive())
			}
		})
	})
})

var _ = Describe("MockClient", func() {
	It("should record publishes and return the configured error", func() {
		m := mock.NewMockClient()
		Expect(m.Publish(context.Background(), mq.Message{MessageID: "a"})).To(Succeed())

		m.PublishError = errors.New("broker down")
		Expect(m.Publish(context.Background(), mq.Message{MessageID: "b"})).To(MatchError("broker down"))

		published := m.Published()
		Expect(published).To(HaveLen(2))
		Expect(published[0].MessageID).To(Equal("a"))

		m.Reset()
		Expect(m.Published()).To(BeEmpty())
	})

	It("should prefer PublishFunc over PublishError", func() {
		m := mock.NewMockClient()
		m.PublishError = errors.New("ignored")
		m.PublishFunc = func(context.Context, mq.Message) error { return nil }

		Expect(m.Publish(context.Background(), mq.Message{})).To(Succeed())
	})
})
