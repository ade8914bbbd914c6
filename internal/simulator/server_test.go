package simulator_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	neturl "net/url"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/health-dashboard/internal/simulator"
	"procodus.dev/health-dashboard/pkg/feed"
	"procodus.dev/health-dashboard/pkg/generator"
	"procodus.dev/health-dashboard/pkg/vitals"
)

var _ = Describe("Simulator", func() {
	var (
		logger  *slog.Logger
		channel generator.Channel
		server  *simulator.Server
		httpSrv *httptest.Server
	)

	get := func(path string) (int, string) {
		resp, err := http.Get(httpSrv.URL + path)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode, string(body)
	}

	feeds := func(body string) []map[string]any {
		var out struct {
			Channel map[string]any   `json:"channel"`
			Feeds   []map[string]any `json:"feeds"`
		}
		Expect(json.Unmarshal([]byte(body), &out)).To(Succeed())
		return out.Feeds
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		channel = generator.Channel{ID: "1234567", ReadKey: "READKEY123"}

		var err error
		server, err = simulator.NewServer(&simulator.ServerConfig{
			Logger:   logger,
			Channels: []generator.Channel{channel},
			Interval: time.Minute,
			History:  150,
			Seed:     11,
			Profile:  generator.DefaultProfile,
		})
		Expect(err).NotTo(HaveOccurred())

		httpSrv = httptest.NewServer(server.Handler())
	})

	AfterEach(func() {
		httpSrv.Close()
	})

	Describe("NewServer", func() {
		It("should validate its config", func() {
			_, err := simulator.NewServer(nil)
			Expect(err).To(HaveOccurred())

			_, err = simulator.NewServer(&simulator.ServerConfig{Interval: time.Second, ChannelCount: 1})
			Expect(err).To(MatchError(ContainSubstring("logger")))

			_, err = simulator.NewServer(&simulator.ServerConfig{Logger: logger, ChannelCount: 1})
			Expect(err).To(MatchError(ContainSubstring("interval")))

			_, err = simulator.NewServer(&simulator.ServerConfig{Logger: logger, Interval: time.Second})
			Expect(err).To(MatchError(ContainSubstring("channel")))

			_, err = simulator.NewServer(&simulator.ServerConfig{
				Logger:   logger,
				Interval: time.Second,
				Channels: []generator.Channel{channel, channel},
			})
			Expect(err).To(MatchError(ContainSubstring("duplicate")))
		})

		It("should generate extra channels", func() {
			s, err := simulator.NewServer(&simulator.ServerConfig{
				Logger:       logger,
				Interval:     time.Second,
				Channels:     []generator.Channel{channel},
				ChannelCount: 2,
			})
			Expect(err).NotTo(HaveOccurred())

			chs := s.Channels()
			Expect(chs).To(HaveLen(3))
			Expect(chs[0].ID).To(Equal(channel.ID))
			Expect(chs[1].ReadKey).NotTo(BeEmpty())
		})
	})

	Describe("feeds.json", func() {
		It("should return the newest 100 readings by default", func() {
			code, body := get("/channels/1234567/feeds.json?api_key=READKEY123")
			Expect(code).To(Equal(http.StatusOK))

			entries := feeds(body)
			Expect(entries).To(HaveLen(simulator.DefaultResults))
			Expect(entries[len(entries)-1]["entry_id"]).To(BeNumerically("==", 150))
			Expect(entries[0]["field1"]).To(BeAssignableToTypeOf(""))
		})

		It("should honor results", func() {
			code, body := get("/channels/1234567/feeds.json?api_key=READKEY123&results=5")
			Expect(code).To(Equal(http.StatusOK))
			entries := feeds(body)
			Expect(entries).To(HaveLen(5))
			Expect(entries[0]["entry_id"]).To(BeNumerically("==", 146))
		})

		It("should filter by start and end", func() {
			readings := server.Channels()[0].Query(time.Time{}, time.Time{}, 0)
			from := readings[10].CreatedAt
			to := readings[19].CreatedAt

			code, body := get("/channels/1234567/feeds.json?api_key=READKEY123" +
				"&start=" + url(from.Format(vitals.SourceLayout)) +
				"&end=" + url(to.Format(vitals.SourceLayout)))
			Expect(code).To(Equal(http.StatusOK))

			entries := feeds(body)
			Expect(entries).To(HaveLen(10))
			Expect(entries[0]["entry_id"]).To(BeNumerically("==", readings[10].EntryID))
		})

		It("should reject a wrong key", func() {
			code, body := get("/channels/1234567/feeds.json?api_key=nope")
			Expect(code).To(Equal(http.StatusBadRequest))
			Expect(body).To(Equal("-1"))
		})

		It("should reject an unknown channel", func() {
			code, body := get("/channels/999/feeds.json?api_key=READKEY123")
			Expect(code).To(Equal(http.StatusNotFound))
			Expect(body).To(Equal("-1"))
		})

		It("should reject a malformed bound", func() {
			code, _ := get("/channels/1234567/feeds.json?api_key=READKEY123&start=yesterday&end=today")
			Expect(code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Tick", func() {
		It("should append a reading to every channel", func() {
			before := server.Channels()[0].LastEntryID()
			server.Tick()
			Expect(server.Channels()[0].LastEntryID()).To(Equal(before + 1))
		})

		It("should drop the oldest readings past capacity", func() {
			s, err := simulator.NewServer(&simulator.ServerConfig{
				Logger:   logger,
				Interval: time.Second,
				Channels: []generator.Channel{channel},
				History:  10,
				Capacity: 4,
			})
			Expect(err).NotTo(HaveOccurred())

			readings := s.Channels()[0].Query(time.Time{}, time.Time{}, 0)
			Expect(readings).To(HaveLen(4))
			Expect(readings[0].EntryID).To(Equal(int64(7)))
		})
	})

	Describe("with the feed client", func() {
		It("should serve windows the client can read", func() {
			client, err := feed.NewClient(&feed.ClientConfig{
				Logger:  logger,
				BaseURL: httpSrv.URL,
			})
			Expect(err).NotTo(HaveOccurred())

			w := client.Fetch(context.Background(), channel.ID, channel.ReadKey, vitals.TimeRange{})
			Expect(w.Status).To(Equal(feed.StatusOK))
			Expect(w.Readings).To(HaveLen(feed.DefaultResults))

			current, ok := w.Current()
			Expect(ok).To(BeTrue())
			Expect(current.EntryID).To(Equal(int64(150)))
			for _, spec := range vitals.Schema {
				_, ok := current.Value(spec.Field)
				Expect(ok).To(BeTrue(), spec.Name)
			}
		})

		It("should fail the window for a wrong key", func() {
			client, err := feed.NewClient(&feed.ClientConfig{Logger: logger, BaseURL: httpSrv.URL})
			Expect(err).NotTo(HaveOccurred())

			w := client.Fetch(context.Background(), channel.ID, "wrong", vitals.TimeRange{})
			Expect(w.Status).To(Equal(feed.StatusFailed))
			Expect(w.Readings).To(BeEmpty())
		})
	})
})

func url(s string) string {
	return neturl.QueryEscape(s)
}
