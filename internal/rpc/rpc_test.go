package rpc_test

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/internal/rpc"
	"procodus.dev/health-dashboard/pkg/vitals"
)

type echoServer struct {
	lastDashboard rpc.DashboardRequest
}

func (s *echoServer) GetDashboard(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := rpc.Decode(req, &s.lastDashboard); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.lastDashboard.ViewerID == 0 {
		return nil, status.Error(codes.Unauthenticated, "no viewer")
	}
	current := vitals.NewReading(9, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC), 36.5, 200, 150, 100, 40, 22)
	return rpc.Encode(dashboard.Result{
		Kind: dashboard.KindPatientView,
		Role: vitals.RolePatient,
		View: &dashboard.PatientView{
			Patient: dashboard.PatientRef{ID: s.lastDashboard.ViewerID, Username: "pat"},
			Current: &current,
			Label:   vitals.LabelNormal,
			Series:  []vitals.Reading{current},
			Start:   s.lastDashboard.Start,
			End:     s.lastDashboard.End,
			Self:    true,
		},
	})
}

func (s *echoServer) GetProfile(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in rpc.ProfileRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, err
	}
	return rpc.Encode(dashboard.Profile{ID: in.ViewerID, Role: vitals.RoleDoctor, IoTPlatform: dashboard.PlatformNone})
}

var _ = Describe("Dashboard service", func() {
	var (
		lis    *bufconn.Listener
		server *grpc.Server
		conn   *grpc.ClientConn
		client *rpc.DashboardClient
		impl   *echoServer
	)

	BeforeEach(func() {
		lis = bufconn.Listen(1 << 20)
		server = grpc.NewServer()
		impl = &echoServer{}
		rpc.RegisterDashboardServer(server, impl)
		go func() { _ = server.Serve(lis) }()

		var err error
		conn, err = grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		Expect(err).NotTo(HaveOccurred())
		client = rpc.NewDashboardClient(conn)
	})

	AfterEach(func() {
		_ = conn.Close()
		server.Stop()
	})

	It("should carry a dashboard request and result end to end", func() {
		target := uint(4)
		res, err := client.GetDashboard(context.Background(), &rpc.DashboardRequest{
			ViewerID:  4,
			PatientID: &target,
			Start:     "2024-05-01T08:00",
			End:       "2024-05-01T09:00",
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(impl.lastDashboard.PatientID).NotTo(BeNil())
		Expect(*impl.lastDashboard.PatientID).To(Equal(uint(4)))

		Expect(res.Kind).To(Equal(dashboard.KindPatientView))
		Expect(res.Role).To(Equal(vitals.RolePatient))
		Expect(res.View.Label).To(Equal(vitals.LabelNormal))
		Expect(res.View.Start).To(Equal("2024-05-01T08:00"))
		Expect(res.View.Current.EntryID).To(Equal(int64(9)))
		Expect(res.View.Series).To(HaveLen(1))

		temp, ok := res.View.Current.Value(vitals.BodyTemp)
		Expect(ok).To(BeTrue())
		Expect(temp).To(Equal(36.5))
	})

	It("should carry profiles", func() {
		p, err := client.GetProfile(context.Background(), &rpc.ProfileRequest{ViewerID: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.ID).To(Equal(uint(2)))
		Expect(p.Role).To(Equal(vitals.RoleDoctor))
	})

	It("should pass status codes through", func() {
		_, err := client.GetDashboard(context.Background(), &rpc.DashboardRequest{})
		Expect(status.Code(err)).To(Equal(codes.Unauthenticated))
	})
})

var _ = Describe("Encode and Decode", func() {
	It("should keep missing readings fields missing", func() {
		r := vitals.Reading{EntryID: 1}
		r.Set(vitals.Smoke, 300)

		s, err := rpc.Encode(r)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.GetFields()).NotTo(HaveKey("body_temp"))

		var out vitals.Reading
		Expect(rpc.Decode(s, &out)).To(Succeed())
		Expect(out.BodyTemp).To(BeNil())
		Expect(*out.Smoke).To(Equal(300.0))
	})

	It("should reject values that are not objects", func() {
		_, err := rpc.Encode([]int{1, 2})
		Expect(err).To(HaveOccurred())
	})

	It("should decode a nil struct as empty", func() {
		var req rpc.ProfileRequest
		Expect(rpc.Decode(nil, &req)).To(Succeed())
		Expect(req.ViewerID).To(BeZero())
	})
})
