// Package flyf4f drives an F4F flight stack over ROS 2. It implements
// gateway.ActuatorGateway plus waypoint upload and waypoint actions.
package flyf4f

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tiiuae/coverageengine/internal/gateway"
	"github.com/tiiuae/coverageengine/internal/geo"
	"github.com/tiiuae/coverageengine/internal/log"
	"github.com/tiiuae/coverageengine/internal/mission"
	builtin_interfaces "github.com/tiiuae/rclgo-msgs/builtin_interfaces/msg"
	geometry_msgs "github.com/tiiuae/rclgo-msgs/geometry_msgs/msg"
	nav_msgs "github.com/tiiuae/rclgo-msgs/nav_msgs/msg"
	px4_msgs "github.com/tiiuae/rclgo-msgs/px4_msgs/msg"
	std_msgs "github.com/tiiuae/rclgo-msgs/std_msgs/msg"
	std_srvs "github.com/tiiuae/rclgo-msgs/std_srvs/srv"
	"github.com/tiiuae/rclgo/pkg/rclgo"
	"github.com/tiiuae/rclgo/pkg/rclgo/types"
)

const (
	topicPosition = "VehicleGlobalPosition_PubSubTopic"
	topicVelocity = "control_interface/velocity_cmd"
	topicPath     = "path"
	topicActions  = "camera/actions"

	serviceArming       = "control_interface/arming"
	serviceTakeoff      = "control_interface/takeoff"
	serviceLand         = "control_interface/land"
	serviceVelocityMode = "control_interface/velocity_mode"
)

var ErrServiceRejected = errors.New("flight stack rejected the request")

type F4F struct {
	ctx    context.Context
	logger *log.Logger

	armingService       *rclgo.Client
	takeoffService      *rclgo.Client
	landingService      *rclgo.Client
	velocityModeService *rclgo.Client

	velocityPub *rclgo.Publisher
	pathPub     *rclgo.Publisher
	actionsPub  *rclgo.Publisher

	mu          sync.Mutex
	subscribers map[int]func(gateway.Position)
	nextID      int
}

// New creates the service clients and publishers on node and starts the
// position subscription. Everything stops when ctx is done.
func New(ctx context.Context, wg *sync.WaitGroup, rclContext *rclgo.Context, node *rclgo.Node, logger *log.Logger) (*F4F, error) {
	f := &F4F{
		ctx:         ctx,
		logger:      logger.With("component", "flyf4f"),
		subscribers: make(map[int]func(gateway.Position)),
	}

	var err error
	if f.armingService, err = createService(ctx, rclContext, node, serviceArming, std_srvs.SetBoolTypeSupport); err != nil {
		return nil, err
	}
	if f.takeoffService, err = createService(ctx, rclContext, node, serviceTakeoff, std_srvs.TriggerTypeSupport); err != nil {
		return nil, err
	}
	if f.landingService, err = createService(ctx, rclContext, node, serviceLand, std_srvs.TriggerTypeSupport); err != nil {
		return nil, err
	}
	if f.velocityModeService, err = createService(ctx, rclContext, node, serviceVelocityMode, std_srvs.SetBoolTypeSupport); err != nil {
		return nil, err
	}

	opts := rclgo.NewDefaultPublisherOptions()
	opts.Qos.Reliability = rclgo.RmwQosReliabilityPolicySystemDefault
	if f.velocityPub, err = node.NewPublisher(topicVelocity, geometry_msgs.TwistTypeSupport, opts); err != nil {
		return nil, errors.WithMessagef(err, "Unable to create publisher %s", topicVelocity)
	}
	if f.actionsPub, err = node.NewPublisher(topicActions, std_msgs.StringTypeSupport, opts); err != nil {
		return nil, errors.WithMessagef(err, "Unable to create publisher %s", topicActions)
	}

	pathOpts := rclgo.NewDefaultPublisherOptions()
	pathOpts.Qos.Durability = rclgo.RmwQosDurabilityPolicyTransientLocal
	pathOpts.Qos.Reliability = rclgo.RmwQosReliabilityPolicyReliable
	if f.pathPub, err = node.NewPublisher(topicPath, nav_msgs.PathTypeSupport, pathOpts); err != nil {
		return nil, errors.WithMessagef(err, "Unable to create publisher %s", topicPath)
	}

	sub, err := node.NewSubscription(topicPosition, px4_msgs.VehicleGlobalPositionTypeSupport, f.handlePosition)
	if err != nil {
		return nil, errors.WithMessagef(err, "Unable to subscribe to topic %s", topicPosition)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sub.Spin(ctx, 5*time.Second); err != nil && ctx.Err() == nil {
			f.logger.Error("Subscription failed", "topic", topicPosition, "error", err)
		}
	}()

	return f, nil
}

// Close releases the clients and publishers.
func (f *F4F) Close() {
	for _, c := range []*rclgo.Client{f.armingService, f.takeoffService, f.landingService, f.velocityModeService} {
		c.Close()
	}
	for _, p := range []*rclgo.Publisher{f.velocityPub, f.pathPub, f.actionsPub} {
		p.Close()
	}
}

func createService(ctx context.Context, rclContext *rclgo.Context, node *rclgo.Node, name string, ts types.ServiceTypeSupport) (*rclgo.Client, error) {
	opt := &rclgo.ClientOptions{Qos: rclgo.NewRmwQosProfileServicesDefault()}
	client, err := node.NewClient(name, ts, opt)
	if err != nil {
		return nil, errors.WithMessagef(err, "Unable to create client %s", name)
	}

	ws, err := rclContext.NewWaitSet(200 * time.Millisecond)
	if err != nil {
		return nil, errors.WithMessagef(err, "Unable to create wait set for %s", name)
	}
	ws.AddClients(client)
	ws.RunGoroutine(ctx)

	return client, nil
}

func (f *F4F) handlePosition(s *rclgo.Subscription) {
	m := px4_msgs.NewVehicleGlobalPosition()
	if _, err := s.TakeMessage(m); err != nil {
		f.logger.Warn("TakeMessage failed", "topic", topicPosition, "error", err)
		return
	}
	pos := gateway.Position{
		Point:    geo.Point{Latitude: m.Lat, Longitude: m.Lon},
		Altitude: float64(m.Alt),
	}

	f.mu.Lock()
	subs := make([]func(gateway.Position), 0, len(f.subscribers))
	for _, fn := range f.subscribers {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(pos)
	}
}

func (f *F4F) SubscribePosition(fn func(gateway.Position)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subscribers[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.subscribers, id)
		f.mu.Unlock()
	}
}

func (f *F4F) setBool(ctx context.Context, client *rclgo.Client, name string, value bool) error {
	req := std_srvs.NewSetBool_Request()
	req.Data = value
	res, _, err := client.Send(ctx, req)
	if err != nil {
		return errors.WithMessagef(err, "F4F: %s", name)
	}
	r := res.(*std_srvs.SetBool_Response)
	f.logger.Info("F4F service", "service", name, "data", value, "success", r.Success, "message", r.Message)
	if !r.Success {
		return errors.WithMessagef(ErrServiceRejected, "%s: %s", name, r.Message)
	}
	return nil
}

func (f *F4F) trigger(ctx context.Context, client *rclgo.Client, name string) error {
	res, _, err := client.Send(ctx, std_srvs.NewTrigger_Request())
	if err != nil {
		return errors.WithMessagef(err, "F4F: %s", name)
	}
	r := res.(*std_srvs.Trigger_Response)
	f.logger.Info("F4F service", "service", name, "success", r.Success, "message", r.Message)
	if !r.Success {
		return errors.WithMessagef(ErrServiceRejected, "%s: %s", name, r.Message)
	}
	return nil
}

// Takeoff arms the aircraft and asks it to take off.
func (f *F4F) Takeoff(ctx context.Context) error {
	if err := f.setBool(ctx, f.armingService, serviceArming, true); err != nil {
		return err
	}
	return f.trigger(ctx, f.takeoffService, serviceTakeoff)
}

func (f *F4F) Land(ctx context.Context) error {
	return f.trigger(ctx, f.landingService, serviceLand)
}

func (f *F4F) SetControlMode(enabled bool) error {
	ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
	defer cancel()
	return f.setBool(ctx, f.velocityModeService, serviceVelocityMode, enabled)
}

// SendVelocityCommand publishes cmd as a Twist: linear x/y carry the
// longitude/latitude speeds, linear z the target altitude and angular z
// the heading in radians.
func (f *F4F) SendVelocityCommand(cmd gateway.DirectionCommand) {
	tw := geometry_msgs.NewTwist()
	tw.Linear.X = float64(cmd.Pitch)
	tw.Linear.Y = float64(cmd.Roll)
	tw.Linear.Z = float64(cmd.Throttle)
	tw.Angular.Z = float64(cmd.Yaw) * math.Pi / 180
	if err := f.velocityPub.Publish(tw); err != nil {
		f.logger.Warn("Failed to publish velocity", "error", err)
	}
}

// UploadWaypoints publishes the mission as a path in the global frame:
// x is latitude, y longitude and z altitude.
func (f *F4F) UploadWaypoints(ctx context.Context, waypoints []mission.Waypoint) error {
	if err := f.pathPub.Publish(createPath(waypoints, time.Now())); err != nil {
		return errors.WithMessage(err, "Failed to publish path")
	}
	f.logger.Info("F4F: path published", "waypoints", len(waypoints))
	return nil
}

func (f *F4F) PerformAction(ctx context.Context, action mission.Action) error {
	b, err := json.Marshal(action)
	if err != nil {
		return err
	}
	msg := std_msgs.NewString()
	msg.Data = string(b)
	if err := f.actionsPub.Publish(msg); err != nil {
		return errors.WithMessagef(err, "Failed to publish action %s", action.Type)
	}
	return nil
}

func createPath(waypoints []mission.Waypoint, now time.Time) *nav_msgs.Path {
	stamp := builtin_interfaces.NewTime()
	stamp.Sec = int32(now.Unix())
	stamp.Nanosec = uint32(now.Nanosecond())

	path := nav_msgs.NewPath()
	path.Header = *std_msgs.NewHeader()
	path.Header.Stamp = *stamp
	path.Header.FrameId = "global"
	path.Poses = make([]geometry_msgs.PoseStamped, len(waypoints))
	for i, w := range waypoints {
		pose := geometry_msgs.NewPoseStamped()
		pose.Header = path.Header
		pose.Pose.Position.X = w.Coordinate.Latitude
		pose.Pose.Position.Y = w.Coordinate.Longitude
		pose.Pose.Position.Z = float64(w.Altitude)
		half := float64(w.Heading) * math.Pi / 360
		pose.Pose.Orientation.Z = math.Sin(half)
		pose.Pose.Orientation.W = math.Cos(half)
		path.Poses[i] = *pose
	}
	return path
}
