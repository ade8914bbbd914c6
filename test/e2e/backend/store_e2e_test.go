package backend_test

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"procodus.dev/health-dashboard/internal/backend"
	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/pkg/vitals"
)

var _ = Describe("Store against PostgreSQL", func() {
	var ctx context.Context

	newUser := func(role vitals.Role) *backend.User {
		u := &backend.User{
			Username: "store-" + uuid.NewString(),
			Email:    "store@example.com",
			Role:     role,
		}
		Expect(store.CreateUser(ctx, u)).To(Succeed())
		return u
	}

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("users", func() {
		It("fills in the join date and platform on create", func() {
			u := newUser(vitals.RoleRelative)

			Expect(u.ID).NotTo(BeZero())
			Expect(u.DateJoined).NotTo(BeZero())

			account, err := store.GetUser(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(account.Username).To(Equal(u.Username))
			Expect(account.Role).To(Equal(vitals.RoleRelative))
			Expect(account.IoTPlatform).To(Equal(dashboard.PlatformNone))
			Expect(account.HasFeed()).To(BeFalse())
		})

		It("keeps a user without a role unset", func() {
			u := newUser(vitals.RoleUnset)

			account, err := store.GetUser(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(account.Role.IsSet()).To(BeFalse())
		})

		It("rejects a duplicate username", func() {
			u := newUser(vitals.RoleDoctor)

			err := store.CreateUser(ctx, &backend.User{Username: u.Username})
			Expect(err).To(MatchError(gorm.ErrDuplicatedKey))
		})

		It("reports unknown users as not found", func() {
			_, err := store.GetUser(ctx, 999999)
			Expect(err).To(MatchError(dashboard.ErrUserNotFound))
		})

		It("finds a user by role only when the role matches", func() {
			_, err := store.GetUserWithRole(ctx, patient.ID, vitals.RolePatient)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.GetUserWithRole(ctx, doctor.ID, vitals.RolePatient)
			Expect(err).To(MatchError(dashboard.ErrUserNotFound))
		})

		It("lists users by join date", func() {
			newUser(vitals.RoleDoctor)

			users, err := store.ListUsers(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(len(users)).To(BeNumerically(">=", 7))
			Expect(slices.IsSortedFunc(users, func(a, b dashboard.Account) int {
				return a.DateJoined.Compare(b.DateJoined)
			})).To(BeTrue())
			Expect(users[0].Username).To(Equal("e2e-admin"))
		})
	})

	Describe("grants", func() {
		It("grants a pair once", func() {
			p := newUser(vitals.RolePatient)
			g := newUser(vitals.RoleRelative)

			ok, err := store.HasGrant(ctx, p.ID, g.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			Expect(store.CreateGrant(ctx, p.ID, g.ID)).To(Succeed())
			Expect(store.CreateGrant(ctx, p.ID, g.ID)).To(MatchError(backend.ErrDuplicateGrant))

			ok, err = store.HasGrant(ctx, p.ID, g.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = store.HasGrant(ctx, g.ID, p.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("lists the patients that granted access", func() {
			patients, err := store.ListGrantedPatients(ctx, doctor.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(patients).To(HaveLen(2))
			Expect(patients[0].ID).To(Equal(patient.ID))
			Expect(patients[1].ID).To(Equal(otherPatient.ID))
			Expect(patients[0].HasFeed()).To(BeTrue())
		})

		It("lists nothing for a grantee without grants", func() {
			patients, err := store.ListGrantedPatients(ctx, relative.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(patients).To(BeEmpty())
		})
	})

	Describe("alerts", func() {
		It("stores an alert once per patient reading", func() {
			p := newUser(vitals.RolePatient)
			readingAt := time.Now().UTC().Truncate(time.Second)

			alert := func(entryID int64, detected time.Time) *backend.RiskAlert {
				return &backend.RiskAlert{
					PatientID:  p.ID,
					EntryID:    entryID,
					Label:      string(vitals.LabelFallRisk),
					ReadingAt:  readingAt,
					DetectedAt: detected,
				}
			}

			inserted, err := store.SaveAlert(ctx, alert(10, readingAt))
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeTrue())

			inserted, err = store.SaveAlert(ctx, alert(10, readingAt.Add(time.Minute)))
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeFalse())

			inserted, err = store.SaveAlert(ctx, alert(11, readingAt.Add(2*time.Minute)))
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeTrue())

			alerts, err := store.ListAlerts(ctx, p.ID, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(alerts).To(HaveLen(2))
			Expect(alerts[0].EntryID).To(Equal(int64(11)))
			Expect(alerts[1].EntryID).To(Equal(int64(10)))
			Expect(alerts[1].ReadingAt).To(BeTemporally("==", readingAt))

			alerts, err = store.ListAlerts(ctx, p.ID, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(alerts).To(HaveLen(1))
		})
	})
})
