package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/health-dashboard/internal/dashboard"
)

// DashboardRequest asks for the dashboard of ViewerID.
type DashboardRequest struct {
	ViewerID  uint   `json:"viewer_id"`
	PatientID *uint  `json:"patient_id,omitempty"`
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
}

// DashboardResponse carries a dashboard.Result.
type DashboardResponse = dashboard.Result

// ProfileRequest asks for the profile of ViewerID.
type ProfileRequest struct {
	ViewerID uint `json:"viewer_id"`
}

// ProfileResponse carries a dashboard.Profile.
type ProfileResponse = dashboard.Profile

// Encode converts v to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return s, nil
}

// Decode fills v from a Struct produced by Encode.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}
