package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// DashboardClient is the typed client of the Dashboard service.
type DashboardClient struct {
	cc grpc.ClientConnInterface
}

// NewDashboardClient creates a client on cc.
func NewDashboardClient(cc grpc.ClientConnInterface) *DashboardClient {
	return &DashboardClient{cc: cc}
}

// GetDashboard renders the dashboard of req.ViewerID.
func (c *DashboardClient) GetDashboard(ctx context.Context, req *DashboardRequest, opts ...grpc.CallOption) (*DashboardResponse, error) {
	out := new(DashboardResponse)
	if err := c.call(ctx, GetDashboardMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProfile returns the profile of req.ViewerID.
func (c *DashboardClient) GetProfile(ctx context.Context, req *ProfileRequest, opts ...grpc.CallOption) (*ProfileResponse, error) {
	out := new(ProfileResponse)
	if err := c.call(ctx, GetProfileMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DashboardClient) call(ctx context.Context, method string, req, out any, opts ...grpc.CallOption) error {
	in, err := Encode(req)
	if err != nil {
		return err
	}
	reply := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, reply, opts...); err != nil {
		return err
	}
	return Decode(reply, out)
}
