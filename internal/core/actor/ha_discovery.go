package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/shadeauto2mqtt/internal/config"
	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"
	"github.com/berfenger/shadeauto2mqtt/internal/core/events"
	"github.com/berfenger/shadeauto2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// HADiscoveryActor announces the bridge and every discovered shade to Home
// Assistant. Shade announcements arrive per hub, whenever a poller finishes
// a discovery run, so added shades show up without a restart.
type HADiscoveryActor struct {
	config           *config.Config
	behavior         actor.Behavior
	stash            *actorutil.Stash
	mqttActor        *actor.PID
	mqttActorHealthy bool

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:    config,
		mqttActor: mqttActor,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// wait for the MQTT actor before announcing anything
		state.mqttActorHealthy = false
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}
		state.mqttActorHealthy = true

		// announce the bridge itself
		bridgeDevice := events.BridgeDevice(state.config.MQTT.BaseTopic)
		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors: events.BridgeSensors(bridgeDevice),
		})

		state.behavior.Become(state.RunningReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) RunningReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ShadesDiscovered:
		state.logger.Debug("hadiscovery@running ShadesDiscovered",
			zap.String("hub", msg.Hub), zap.Int("shades", len(msg.Shades)))

		var covers []domain.GenericCover
		var sensors []domain.GenericSensor

		bridgeDevice := events.BridgeDevice(state.config.MQTT.BaseTopic)
		hubDevice := events.HubDevice(bridgeDevice, msg.Hub)

		for i, shade := range msg.Shades {
			device := hubDevice
			if i > 0 {
				device = events.IdDevice(hubDevice)
			}
			covers = append(covers, events.ShadeCover(device, shade))
			shadeSensors := events.ShadeSensors(events.IdDevice(hubDevice), shade)
			sensors = append(sensors, shadeSensors...)
		}

		if len(covers) > 0 || len(sensors) > 0 {
			ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
				Covers:  covers,
				Sensors: sensors,
			})
		}
	default:
		state.logger.Debug("hadiscovery@running: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}
