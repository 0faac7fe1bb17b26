// Package mavlink talks to the vehicle through the BlueOS MAV2Rest bridge:
// it serializes LANDING_TARGET reports outbound and reads gimbal attitude
// telemetry inbound. The report struct is typed and owned by this package;
// callers never assemble transport payloads themselves.
package mavlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/rmackay9/blueos-precision-landing/internal/httputil"
	"github.com/rmackay9/blueos-precision-landing/internal/landing"
	"github.com/rmackay9/blueos-precision-landing/internal/orientation"
)

const (
	// DefaultEndpoint is the MAV2Rest address inside a BlueOS extension
	// container.
	DefaultEndpoint = "http://host.docker.internal:6040"

	// compIDOnboardComputer identifies this service as the sending MAVLink
	// component.
	compIDOnboardComputer = 191

	// compIDGimbal is the component id gimbal devices report under.
	compIDGimbal = 154

	// msgIDGimbalDeviceAttitudeStatus is the GIMBAL_DEVICE_ATTITUDE_STATUS
	// message id, requested when orientation gating is enabled.
	msgIDGimbalDeviceAttitudeStatus = 285
)

// Client is a MAV2Rest client implementing landing.TargetGateway and
// landing.OrientationMonitor.
type Client struct {
	endpoint string
	http     httputil.HTTPClient
	logger   *log.Logger
}

// NewClient creates a Client for the given MAV2Rest endpoint. An empty
// endpoint uses DefaultEndpoint; a nil HTTP client uses a standard client
// with a 5 second timeout.
func NewClient(endpoint string, hc httputil.HTTPClient) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if hc == nil {
		hc = httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Second})
	}
	return &Client{endpoint: endpoint, http: hc, logger: log.Default()}
}

type header struct {
	SystemID    uint8 `json:"system_id"`
	ComponentID uint8 `json:"component_id"`
	Sequence    int   `json:"sequence"`
}

type enumValue struct {
	Type string `json:"type"`
}

// landingTargetMessage is the LANDING_TARGET wire shape understood by
// MAV2Rest. Position and orientation fields are fixed placeholders: this is
// an angular, bearing-only report in the body FRD frame.
type landingTargetMessage struct {
	Type         string     `json:"type"`
	TimeUsec     int64      `json:"time_usec"`
	TargetNum    int        `json:"target_num"`
	Frame        enumValue  `json:"frame"`
	AngleX       float64    `json:"angle_x"`
	AngleY       float64    `json:"angle_y"`
	Distance     float64    `json:"distance"`
	SizeX        float64    `json:"size_x"`
	SizeY        float64    `json:"size_y"`
	X            float64    `json:"x"`
	Y            float64    `json:"y"`
	Z            float64    `json:"z"`
	Q            [4]float64 `json:"q"`
	PositionType enumValue  `json:"position_type"`
}

type commandLongMessage struct {
	Type            string    `json:"type"`
	TargetSystem    uint8     `json:"target_system"`
	TargetComponent uint8     `json:"target_component"`
	Command         enumValue `json:"command"`
	Confirmation    int       `json:"confirmation"`
	Param1          float64   `json:"param1"`
	Param2          float64   `json:"param2"`
	Param3          float64   `json:"param3"`
	Param4          float64   `json:"param4"`
	Param5          float64   `json:"param5"`
	Param6          float64   `json:"param6"`
	Param7          float64   `json:"param7"`
}

type envelope struct {
	Header  header      `json:"header"`
	Message interface{} `json:"message"`
}

// SendTargetReport serializes the report as a LANDING_TARGET message and
// posts it to MAV2Rest.
func (c *Client) SendTargetReport(ctx context.Context, r landing.TargetReport) error {
	ident := orientation.Identity
	msg := landingTargetMessage{
		Type:         "LANDING_TARGET",
		TimeUsec:     r.TimeUsec,
		TargetNum:    r.TagID,
		Frame:        enumValue{Type: "MAV_FRAME_LOCAL_FRD"},
		AngleX:       r.AngleX,
		AngleY:       r.AngleY,
		Distance:     r.Distance,
		SizeX:        r.SizeX,
		SizeY:        r.SizeY,
		Q:            [4]float64{ident.W, ident.X, ident.Y, ident.Z},
		PositionType: enumValue{Type: "LANDING_TARGET_TYPE_VISION_FIDUCIAL"},
	}
	return c.post(ctx, envelope{
		Header:  header{SystemID: r.SystemID, ComponentID: compIDOnboardComputer},
		Message: msg,
	})
}

// RequestStream asks the autopilot to emit GIMBAL_DEVICE_ATTITUDE_STATUS at
// the given rate via MAV_CMD_SET_MESSAGE_INTERVAL.
func (c *Client) RequestStream(ctx context.Context, systemID uint8, rateHz float64) error {
	if rateHz <= 0 {
		return fmt.Errorf("invalid stream rate: %.2f Hz", rateHz)
	}
	intervalUsec := 1e6 / rateHz
	msg := commandLongMessage{
		Type:         "COMMAND_LONG",
		TargetSystem: systemID,
		Command:      enumValue{Type: "MAV_CMD_SET_MESSAGE_INTERVAL"},
		Param1:       msgIDGimbalDeviceAttitudeStatus,
		Param2:       intervalUsec,
	}
	return c.post(ctx, envelope{
		Header:  header{SystemID: systemID, ComponentID: compIDOnboardComputer},
		Message: msg,
	})
}

// gimbalAttitudeResponse is the subset of the MAV2Rest message read we use.
type gimbalAttitudeResponse struct {
	Message struct {
		Q [4]float64 `json:"q"`
	} `json:"message"`
}

// Orientation fetches the latest gimbal attitude quaternion for the vehicle.
// Any transport or decode failure yields ok=false; callers decide how to
// degrade.
func (c *Client) Orientation(ctx context.Context, systemID uint8) (orientation.Quaternion, bool) {
	url := fmt.Sprintf("%s/mavlink/vehicles/%d/components/%d/messages/GIMBAL_DEVICE_ATTITUDE_STATUS",
		c.endpoint, systemID, compIDGimbal)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return orientation.Quaternion{}, false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return orientation.Quaternion{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return orientation.Quaternion{}, false
	}

	var ga gimbalAttitudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&ga); err != nil {
		return orientation.Quaternion{}, false
	}

	q := orientation.Quaternion{W: ga.Message.Q[0], X: ga.Message.Q[1], Y: ga.Message.Q[2], Z: ga.Message.Q[3]}
	if q.Norm() == 0 {
		return orientation.Quaternion{}, false
	}
	return q.Normalized(), true
}

func (c *Client) post(ctx context.Context, env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode mavlink message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/mavlink", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build mavlink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mavlink post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mavlink post returned status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	return nil
}
