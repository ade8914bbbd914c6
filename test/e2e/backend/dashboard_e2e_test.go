package backend_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"procodus.dev/health-dashboard/internal/backend"
	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/internal/rpc"
	"procodus.dev/health-dashboard/pkg/feed"
	"procodus.dev/health-dashboard/pkg/vitals"
)

var _ = Describe("Dashboard over gRPC", func() {
	var ctx context.Context

	render := func(viewer *backend.User, target *uint, tr vitals.TimeRange) *dashboard.Result {
		res, err := client.GetDashboard(ctx, &rpc.DashboardRequest{
			ViewerID:  viewer.ID,
			PatientID: target,
			Start:     tr.Start,
			End:       tr.End,
		})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
		DeferCleanup(cancel)
	})

	Describe("patients", func() {
		It("see their own trailing window and label", func() {
			res := render(patient, nil, vitals.TimeRange{})

			Expect(res.Kind).To(Equal(dashboard.KindPatientView))
			Expect(res.Role).To(Equal(vitals.RolePatient))

			view := res.View
			Expect(view.Self).To(BeTrue())
			Expect(view.Patient.ID).To(Equal(patient.ID))
			Expect(view.FeedStatus).To(Equal("ok"))
			Expect(view.Series).To(HaveLen(feed.DefaultResults))
			Expect(view.Current).NotTo(BeNil())
			Expect(view.Current.EntryID).To(Equal(view.Series[len(view.Series)-1].EntryID))
			Expect(view.Label.IsRisk()).To(BeTrue())
		})

		It("see themselves when targeting their own id", func() {
			res := render(patient, &patient.ID, vitals.TimeRange{})

			Expect(res.Kind).To(Equal(dashboard.KindPatientView))
			Expect(res.View.Self).To(BeTrue())
		})

		It("filter by a time range", func() {
			end := time.Now().UTC()
			start := end.Add(-30 * time.Minute)
			tr := vitals.TimeRange{
				Start: start.Format("2006-01-02T15:04"),
				End:   end.Format("2006-01-02T15:04:05"),
			}

			view := render(patient, nil, tr).View

			Expect(view.Start).To(Equal(tr.Start))
			Expect(view.End).To(Equal(tr.End))
			Expect(view.Series).NotTo(BeEmpty())
			Expect(len(view.Series)).To(BeNumerically("<=", 31))
			for _, r := range view.Series {
				Expect(r.CreatedAt).To(BeTemporally(">=", start.Truncate(time.Minute)))
				Expect(r.CreatedAt).To(BeTemporally("<=", end))
			}
		})

		It("get no data for a malformed time range", func() {
			view := render(patient, nil, vitals.TimeRange{Start: "yesterday", End: "today"}).View

			Expect(view.FeedStatus).To(Equal("failed"))
			Expect(view.Label).To(Equal(vitals.LabelNoData))
			Expect(view.Current).To(BeNil())
			Expect(view.Series).To(BeEmpty())
		})

		It("without feed credentials get no data", func() {
			view := render(otherPatient, nil, vitals.TimeRange{}).View

			Expect(view.FeedStatus).To(Equal("unconfigured"))
			Expect(view.Label).To(Equal(vitals.LabelNoData))
		})

		It("are denied another patient's data", func() {
			res := render(otherPatient, &patient.ID, vitals.TimeRange{})

			Expect(res.Kind).To(Equal(dashboard.KindAccessDenied))
			Expect(res.View).To(BeNil())
		})
	})

	Describe("caregivers", func() {
		It("list the patients that granted them access", func() {
			res := render(doctor, nil, vitals.TimeRange{})

			Expect(res.Kind).To(Equal(dashboard.KindPatientList))
			Expect(res.Patients).To(HaveLen(2))
			Expect(res.Patients[0].ID).To(Equal(patient.ID))
			Expect(res.Patients[0].Username).To(Equal("e2e-patient"))
		})

		It("view a granted patient", func() {
			res := render(doctor, &patient.ID, vitals.TimeRange{})

			Expect(res.Kind).To(Equal(dashboard.KindPatientView))
			Expect(res.Role).To(Equal(vitals.RoleDoctor))
			Expect(res.View.Self).To(BeFalse())
			Expect(res.View.Label.IsRisk()).To(BeTrue())
		})

		It("are denied a patient without a grant", func() {
			res := render(relative, &patient.ID, vitals.TimeRange{})

			Expect(res.Kind).To(Equal(dashboard.KindAccessDenied))
			Expect(res.Role).To(Equal(vitals.RoleRelative))
		})

		It("get not found for a non-patient target", func() {
			_, err := client.GetDashboard(ctx, &rpc.DashboardRequest{ViewerID: doctor.ID, PatientID: &relative.ID})
			Expect(status.Code(err)).To(Equal(codes.NotFound))
		})
	})

	Describe("admins", func() {
		It("see every user by join date", func() {
			res := render(admin, nil, vitals.TimeRange{})

			Expect(res.Kind).To(Equal(dashboard.KindRoster))
			Expect(len(res.Users)).To(BeNumerically(">=", 6))
			Expect(res.Users[0].Username).To(Equal("e2e-admin"))
			Expect(res.Users[1].Role).To(Equal(vitals.RoleDoctor))
		})

		It("view any patient", func() {
			res := render(admin, &otherPatient.ID, vitals.TimeRange{})

			Expect(res.Kind).To(Equal(dashboard.KindPatientView))
			Expect(res.View.Patient.ID).To(Equal(otherPatient.ID))
			Expect(res.View.Self).To(BeFalse())
		})
	})

	It("sends users without a role to complete their profile", func() {
		res := render(newcomer, nil, vitals.TimeRange{})

		Expect(res.Kind).To(Equal(dashboard.KindProfileIncomplete))
	})

	It("rejects unknown viewers", func() {
		_, err := client.GetDashboard(ctx, &rpc.DashboardRequest{ViewerID: 999999})
		Expect(status.Code(err)).To(Equal(codes.Unauthenticated))
	})

	Describe("profiles", func() {
		It("report the feed configuration", func() {
			profile, err := client.GetProfile(ctx, &rpc.ProfileRequest{ViewerID: patient.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.Username).To(Equal("e2e-patient"))
			Expect(profile.Role).To(Equal(vitals.RolePatient))
			Expect(profile.IoTPlatform).To(Equal(dashboard.PlatformThingSpeak))
			Expect(profile.FeedConfigured).To(BeTrue())
		})

		It("report an unset role", func() {
			profile, err := client.GetProfile(ctx, &rpc.ProfileRequest{ViewerID: newcomer.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.Role.IsSet()).To(BeFalse())
			Expect(profile.FeedConfigured).To(BeFalse())
		})
	})
})
