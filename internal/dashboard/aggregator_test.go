package dashboard_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/pkg/feed"
	"procodus.dev/health-dashboard/pkg/vitals"
)

var joined = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func account(id uint, role vitals.Role, days int) dashboard.Account {
	return dashboard.Account{
		ID:          id,
		Username:    role.String() + "-user",
		Email:       "user@example.com",
		Role:        role,
		IoTPlatform: dashboard.PlatformNone,
		DateJoined:  joined.AddDate(0, 0, days),
	}
}

func withFeed(a dashboard.Account, channel, key string) dashboard.Account {
	a.IoTPlatform = dashboard.PlatformThingSpeak
	a.ChannelID = channel
	a.ReadKey = key
	return a
}

func ptr(id uint) *uint { return &id }

var _ = Describe("Policy", func() {
	var (
		dir    *memDirectory
		policy *dashboard.Policy
		ctx    context.Context

		admin    = account(1, vitals.RoleAdmin, 0)
		doctor   = account(2, vitals.RoleDoctor, 1)
		relative = account(3, vitals.RoleRelative, 2)
		patient  = account(4, vitals.RolePatient, 3)
		other    = account(5, vitals.RolePatient, 4)
		unset    = account(6, vitals.RoleUnset, 5)
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = newMemDirectory(admin, doctor, relative, patient, other, unset)
		dir.grant(patient.ID, doctor.ID)

		var err error
		policy, err = dashboard.NewPolicy(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should require a grant checker", func() {
		_, err := dashboard.NewPolicy(nil)
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("CanView",
		func(viewer, target func() dashboard.Account, expected bool) {
			ok, err := policy.CanView(ctx, viewer(), target())
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(Equal(expected))
		},
		Entry("admin sees anyone", func() dashboard.Account { return admin }, func() dashboard.Account { return other }, true),
		Entry("patient sees self", func() dashboard.Account { return patient }, func() dashboard.Account { return patient }, true),
		Entry("patient cannot see others", func() dashboard.Account { return patient }, func() dashboard.Account { return other }, false),
		Entry("doctor with grant", func() dashboard.Account { return doctor }, func() dashboard.Account { return patient }, true),
		Entry("doctor without grant", func() dashboard.Account { return doctor }, func() dashboard.Account { return other }, false),
		Entry("relative without grant", func() dashboard.Account { return relative }, func() dashboard.Account { return patient }, false),
		Entry("unset role", func() dashboard.Account { return unset }, func() dashboard.Account { return patient }, false),
	)

	It("should match grants on the exact pair", func() {
		dir.grant(other.ID, relative.ID)

		ok, err := policy.CanView(ctx, relative, other)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		ok, err = policy.CanView(ctx, relative, patient)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("should surface store failures as errors", func() {
		dir.err = errors.New("connection reset")

		_, err := policy.CanView(ctx, doctor, patient)
		Expect(err).To(MatchError(ContainSubstring("connection reset")))
	})
})

var _ = Describe("Aggregator", func() {
	var (
		ctx        context.Context
		logger     *slog.Logger
		dir        *memDirectory
		stub       *stubFeed
		classifier *stubClassifier
		agg        *dashboard.Aggregator

		admin    dashboard.Account
		doctor   dashboard.Account
		relative dashboard.Account
		patient  dashboard.Account
		other    dashboard.Account
		unset    dashboard.Account
		readings []vitals.Reading
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))

		admin = account(1, vitals.RoleAdmin, 10)
		doctor = account(2, vitals.RoleDoctor, 5)
		relative = account(3, vitals.RoleRelative, 7)
		patient = withFeed(account(4, vitals.RolePatient, 1), "1001", "KEY-A")
		other = withFeed(account(5, vitals.RolePatient, 3), "1002", "KEY-B")
		unset = account(6, vitals.RoleUnset, 0)

		dir = newMemDirectory(admin, doctor, relative, patient, other, unset)
		dir.grant(patient.ID, doctor.ID)
		dir.grant(patient.ID, relative.ID)
		dir.grant(other.ID, relative.ID)

		readings = []vitals.Reading{
			vitals.NewReading(1, joined, 36.5, 200, 150, 100, 40, 22),
			vitals.NewReading(2, joined.Add(time.Minute), 36.6, 210, 150, 95, 41, 22),
			vitals.NewReading(3, joined.Add(2*time.Minute), 39.5, 750, 600, 15, 70, 30),
		}
		stub = &stubFeed{window: feed.Window{Status: feed.StatusOK, Readings: readings}}
		classifier = &stubClassifier{label: vitals.LabelRisk}

		var err error
		agg, err = dashboard.NewAggregator(&dashboard.AggregatorConfig{
			Logger:     logger,
			Directory:  dir,
			Feed:       stub,
			Classifier: classifier,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Context("NewAggregator", func() {
		It("should return error with nil config", func() {
			a, err := dashboard.NewAggregator(nil)
			Expect(err).To(HaveOccurred())
			Expect(a).To(BeNil())
		})

		It("should return error with nil logger", func() {
			_, err := dashboard.NewAggregator(&dashboard.AggregatorConfig{
				Directory: dir, Feed: stub, Classifier: classifier,
			})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		})

		It("should require every collaborator", func() {
			_, err := dashboard.NewAggregator(&dashboard.AggregatorConfig{Logger: logger, Feed: stub, Classifier: classifier})
			Expect(err).To(HaveOccurred())
			_, err = dashboard.NewAggregator(&dashboard.AggregatorConfig{Logger: logger, Directory: dir, Classifier: classifier})
			Expect(err).To(HaveOccurred())
			_, err = dashboard.NewAggregator(&dashboard.AggregatorConfig{Logger: logger, Directory: dir, Feed: stub})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("patient viewer", func() {
		It("should show their own vitals without a target", func() {
			res, err := agg.Render(ctx, patient.ID, nil, vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Kind).To(Equal(dashboard.KindPatientView))
			Expect(res.Role).To(Equal(vitals.RolePatient))

			view := res.View
			Expect(view.Self).To(BeTrue())
			Expect(view.Patient.ID).To(Equal(patient.ID))
			Expect(view.Series).To(HaveLen(3))
			Expect(view.Current).NotTo(BeNil())
			Expect(view.Current.EntryID).To(Equal(int64(3)))
			Expect(view.Label).To(Equal(vitals.LabelRisk))
			Expect(view.FeedStatus).To(Equal("ok"))

			Expect(stub.channel).To(Equal("1001"))
			Expect(stub.key).To(Equal("KEY-A"))
			Expect(classifier.calls).To(Equal(1))
			Expect(classifier.last.EntryID).To(Equal(int64(3)))
		})

		It("should treat their own id as target like no target", func() {
			res, err := agg.Render(ctx, patient.ID, ptr(patient.ID), vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Kind).To(Equal(dashboard.KindPatientView))
			Expect(res.View.Self).To(BeTrue())
		})

		It("should be denied another patient's vitals", func() {
			res, err := agg.Render(ctx, patient.ID, ptr(other.ID), vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Kind).To(Equal(dashboard.KindAccessDenied))
			Expect(res.View).To(BeNil())
			Expect(stub.Calls()).To(BeZero())
			Expect(classifier.calls).To(BeZero())
		})

		It("should report no data without channel credentials and skip the feed", func() {
			bare := account(7, vitals.RolePatient, 8)
			dir.users[bare.ID] = bare

			res, err := agg.Render(ctx, bare.ID, nil, vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.View.Label).To(Equal(vitals.LabelNoData))
			Expect(res.View.Current).To(BeNil())
			Expect(res.View.Series).To(BeEmpty())
			Expect(res.View.FeedStatus).To(Equal("unconfigured"))
			Expect(stub.Calls()).To(BeZero())
			Expect(classifier.calls).To(BeZero())
		})

		It("should not fetch for platforms other than ThingSpeak", func() {
			blynk := withFeed(account(8, vitals.RolePatient, 9), "1003", "KEY-C")
			blynk.IoTPlatform = dashboard.PlatformBlynk
			dir.users[blynk.ID] = blynk

			res, err := agg.Render(ctx, blynk.ID, nil, vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.View.Label).To(Equal(vitals.LabelNoData))
			Expect(stub.Calls()).To(BeZero())
		})

		It("should report no data for an empty window without classifying", func() {
			stub.window = feed.Window{Status: feed.StatusEmpty}

			res, err := agg.Render(ctx, patient.ID, nil, vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.View.Label).To(Equal(vitals.LabelNoData))
			Expect(res.View.Series).NotTo(BeNil())
			Expect(res.View.Series).To(BeEmpty())
			Expect(classifier.calls).To(BeZero())
		})

		It("should degrade an upstream failure to no data", func() {
			stub.window = feed.Window{Status: feed.StatusFailed, Err: errors.New("timeout")}

			res, err := agg.Render(ctx, patient.ID, nil, vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Kind).To(Equal(dashboard.KindPatientView))
			Expect(res.View.Label).To(Equal(vitals.LabelNoData))
			Expect(res.View.FeedStatus).To(Equal("failed"))
		})

		It("should pass the time range through and echo it back", func() {
			tr := vitals.TimeRange{Start: "2024-05-01T08:00", End: "2024-05-01T09:00"}

			res, err := agg.Render(ctx, patient.ID, nil, tr)
			Expect(err).NotTo(HaveOccurred())
			Expect(stub.tr).To(Equal(tr))
			Expect(res.View.Start).To(Equal(tr.Start))
			Expect(res.View.End).To(Equal(tr.End))
		})

		It("should carry a model error label through", func() {
			classifier.label = vitals.LabelModelError

			res, err := agg.Render(ctx, patient.ID, nil, vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.View.Label).To(Equal(vitals.LabelModelError))
			Expect(res.View.Series).To(HaveLen(3))
		})
	})

	Context("caregiver viewer", func() {
		It("should list the patients that granted access", func() {
			res, err := agg.Render(ctx, relative.ID, nil, vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Kind).To(Equal(dashboard.KindPatientList))
			Expect(res.Patients).To(HaveLen(2))
			Expect(res.Patients[0].ID).To(Equal(patient.ID))
			Expect(res.Patients[1].ID).To(Equal(other.ID))
			Expect(stub.Calls()).To(BeZero())
		})

		It("should show a granted patient's vitals", func() {
			res, err := agg.Render(ctx, doctor.ID, ptr(patient.ID), vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Kind).To(Equal(dashboard.KindPatientView))
			Expect(res.View.Self).To(BeFalse())
			Expect(res.View.Patient.ID).To(Equal(patient.ID))
			Expect(res.View.Label).To(Equal(vitals.LabelRisk))
		})

		It("should be denied without a grant and never touch the feed", func() {
			res, err := agg.Render(ctx, doctor.ID, ptr(other.ID), vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Kind).To(Equal(dashboard.KindAccessDenied))
			Expect(stub.Calls()).To(BeZero())
			Expect(classifier.calls).To(BeZero())
		})

		It("should return not found for a target that is not a patient", func() {
			_, err := agg.Render(ctx, doctor.ID, ptr(admin.ID), vitals.TimeRange{})
			Expect(err).To(MatchError(dashboard.ErrPatientNotFound))

			_, err = agg.Render(ctx, doctor.ID, ptr(999), vitals.TimeRange{})
			Expect(err).To(MatchError(dashboard.ErrPatientNotFound))
		})

		It("should return an empty list without grants", func() {
			lonely := account(9, vitals.RoleDoctor, 11)
			dir.users[lonely.ID] = lonely

			res, err := agg.Render(ctx, lonely.ID, nil, vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Kind).To(Equal(dashboard.KindPatientList))
			Expect(res.Patients).To(BeEmpty())
		})
	})

	Context("admin viewer", func() {
		It("should list every user by join date", func() {
			res, err := agg.Render(ctx, admin.ID, nil, vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Kind).To(Equal(dashboard.KindRoster))
			Expect(res.Users).To(HaveLen(6))

			ids := make([]uint, 0, len(res.Users))
			for _, u := range res.Users {
				ids = append(ids, u.ID)
			}
			Expect(ids).To(Equal([]uint{unset.ID, patient.ID, other.ID, doctor.ID, relative.ID, admin.ID}))
		})

		It("should view any patient without a grant", func() {
			res, err := agg.Render(ctx, admin.ID, ptr(other.ID), vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Kind).To(Equal(dashboard.KindPatientView))
			Expect(res.View.Patient.ID).To(Equal(other.ID))
			Expect(stub.channel).To(Equal("1002"))
		})

		It("should propagate store failures", func() {
			dir.err = errors.New("db down")

			_, err := agg.Render(ctx, admin.ID, nil, vitals.TimeRange{})
			Expect(err).To(MatchError(ContainSubstring("db down")))
		})
	})

	Context("incomplete profile", func() {
		It("should ask for a role before doing any work", func() {
			res, err := agg.Render(ctx, unset.ID, ptr(patient.ID), vitals.TimeRange{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Kind).To(Equal(dashboard.KindProfileIncomplete))
			Expect(stub.Calls()).To(BeZero())
			Expect(classifier.calls).To(BeZero())
		})
	})

	It("should fail for an unknown viewer", func() {
		_, err := agg.Render(ctx, 404, nil, vitals.TimeRange{})
		Expect(err).To(MatchError(dashboard.ErrViewerNotFound))
	})

	It("should not modify users or grants", func() {
		before := len(dir.users)
		grants := len(dir.grants)

		_, err := agg.Render(ctx, doctor.ID, ptr(patient.ID), vitals.TimeRange{})
		Expect(err).NotTo(HaveOccurred())
		_, err = agg.Render(ctx, admin.ID, nil, vitals.TimeRange{})
		Expect(err).NotTo(HaveOccurred())

		Expect(dir.users).To(HaveLen(before))
		Expect(dir.grants).To(HaveLen(grants))
		Expect(dir.users[patient.ID]).To(Equal(patient))
	})
})

var _ = Describe("Profile", func() {
	It("should describe the viewer without credentials", func() {
		p := withFeed(account(4, vitals.RolePatient, 1), "1001", "KEY-A")
		dir := newMemDirectory(p)
		agg, err := dashboard.NewAggregator(&dashboard.AggregatorConfig{
			Logger:     slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
			Directory:  dir,
			Feed:       &stubFeed{},
			Classifier: &stubClassifier{},
		})
		Expect(err).NotTo(HaveOccurred())

		profile, err := agg.Profile(context.Background(), p.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(profile.Role).To(Equal(vitals.RolePatient))
		Expect(profile.IoTPlatform).To(Equal(dashboard.PlatformThingSpeak))
		Expect(profile.FeedConfigured).To(BeTrue())

		_, err = agg.Profile(context.Background(), 99)
		Expect(err).To(MatchError(dashboard.ErrViewerNotFound))
	})
})

var _ = Describe("Kind", func() {
	It("should round trip through its text form", func() {
		for _, k := range []dashboard.Kind{
			dashboard.KindPatientView, dashboard.KindPatientList, dashboard.KindRoster,
			dashboard.KindAccessDenied, dashboard.KindProfileIncomplete,
		} {
			text, err := k.MarshalText()
			Expect(err).NotTo(HaveOccurred())

			var parsed dashboard.Kind
			Expect(parsed.UnmarshalText(text)).To(Succeed())
			Expect(parsed).To(Equal(k))
		}

		var k dashboard.Kind
		Expect(k.UnmarshalText([]byte("bogus"))).NotTo(Succeed())
	})
})
