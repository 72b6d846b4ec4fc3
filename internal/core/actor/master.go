package actor

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"time"

	adactor "github.com/berfenger/shadeauto2mqtt/internal/adapter/actor"
	"github.com/berfenger/shadeauto2mqtt/internal/config"
	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"
	"github.com/berfenger/shadeauto2mqtt/internal/core/port"
	"github.com/berfenger/shadeauto2mqtt/internal/core/store"
	. "github.com/berfenger/shadeauto2mqtt/internal/util/actorutil"
	"github.com/berfenger/shadeauto2mqtt/pkg/shadeauto"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// HubClientProvider builds the wire client for one hub.
type HubClientProvider func(host string, port uint) shadeauto.Client

// MasterOfShadesActor supervises the whole actor tree: the MQTT adapter, an
// optional HA discovery actor and a hub/poller actor pair per hub. It routes
// shade commands to the poller that owns the shade.
type MasterOfShadesActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	store              *store.Store
	normalizer         port.BatteryNormalizer
	mqttActor          *actor.PID
	haDiscoveryActor   *actor.PID
	hubs               map[string]hubActors
	removals           map[string]*hubRemoval
	mqttActorProvider  MQTTActorProvider
	hubClientProvider  HubClientProvider
	logger             *zap.Logger
}

type hubActors struct {
	hubActor    *actor.PID
	pollerActor *actor.PID
}

type healthCheckResult struct {
	expected       int
	checksReceived int
	healthy        int
	respondTo      *actor.PID
}

type addHubResult struct {
	host    string
	port    uint
	err     error
	replyTo *actor.PID
}

// hubRemoval tracks a hub whose actors are stopping. The store purge and the
// response wait until both children have terminated, so a poll batch still in
// flight cannot write removed shades back.
type hubRemoval struct {
	host    string
	waiting int
	replyTo *actor.PID
}

func NewMasterOfShadesActor(config config.Config, st *store.Store, normalizer port.BatteryNormalizer,
	hubClientProvider HubClientProvider, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterOfShadesActor {
	act := &MasterOfShadesActor{
		config:            config,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		logger:            ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:       &eventstream.EventStream{},
		store:             st,
		normalizer:        normalizer,
		hubs:              map[string]hubActors{},
		removals:          map[string]*hubRemoval{},
		hubClientProvider: hubClientProvider,
		mqttActorProvider: mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfShadesActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfShadesActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			haDiscPID, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
			state.haDiscoveryActor = haDiscPID
		}

		// start a hub/poller pair per configured hub
		hubList, err := state.config.HubList(shadeauto.DefaultPort)
		if err != nil {
			panic(err)
		}
		for _, hub := range hubList {
			if err := state.spawnHub(ctx, hub.Host, hub.Port); err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfShadesActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck = healthCheckResult{
			expected:  1 + 2*len(state.hubs),
			respondTo: ctx.Sender(),
		}
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		// Hub and Poller Actor Requests
		for host, hub := range state.hubs {
			hubId := fmt.Sprintf("%s_%s", domain.ACTOR_ID_HUB_PREFIX, host)
			pollerId := fmt.Sprintf("%s_%s", domain.ACTOR_ID_POLLER_PREFIX, host)
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(hub.hubActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      hubId,
					Healthy: false,
				}
			})
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(hub.pollerActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      pollerId,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		// map MQTT command to a shade command and route it
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err == nil && cmd != nil {
				switch pcmd := cmd.(type) {
				case domain.IssueShadeCommandRequest:
					state.routeShadeCommand(ctx, pcmd, false)
				}
			}
		}
	case domain.IssueShadeCommandRequest:
		state.routeShadeCommand(ctx, msg, true)
	case domain.ShadesDiscovered:
		if state.haDiscoveryActor != nil {
			ctx.Send(state.haDiscoveryActor, msg)
		}
	case domain.AddHubRequest:
		state.handleAddHub(ctx, msg)
	case addHubResult:
		state.handleAddHubResult(ctx, msg)
	case domain.RemoveHubRequest:
		state.handleRemoveHub(ctx, msg)
	case *actor.Terminated:
		if removal, ok := state.removals[msg.Who.Id]; ok {
			delete(state.removals, msg.Who.Id)
			removal.waiting--
			if removal.waiting <= 0 {
				state.store.RemoveHub(removal.host)
				state.logger.Info("master: hub removed", zap.String("host", removal.host))
				if removal.replyTo != nil {
					ctx.Send(removal.replyTo, domain.RemoveHubResponse{Host: removal.host, Found: true})
				}
			}
			return
		}
		state.logger.Warn("master@default child terminated", zap.String("who", msg.Who.Id))
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfShadesActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			state.currentHealthCheck.healthy++
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// routeShadeCommand forwards a command to the poller owning the shade.
// Forwarding keeps the original sender so the poller responds directly.
func (state *MasterOfShadesActor) routeShadeCommand(ctx actor.Context, msg domain.IssueShadeCommandRequest, respond bool) {
	host, ok := state.store.HubForShade(msg.UID)
	if !ok {
		state.logger.Debug("master: command for unknown shade", zap.String("uid", msg.UID))
		if respond {
			ctx.Respond(domain.IssueShadeCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: shadeauto.ErrNotFound,
				},
				UID:    msg.UID,
				Reason: "unknown shade",
			})
		}
		return
	}
	hub, ok := state.hubs[host]
	if !ok {
		if respond {
			ctx.Respond(domain.IssueShadeCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: shadeauto.ErrNotFound,
				},
				UID:    msg.UID,
				Reason: "hub not running",
			})
		}
		return
	}
	if respond && ctx.Sender() != nil {
		ctx.Forward(hub.pollerActor)
	} else {
		ctx.Send(hub.pollerActor, msg)
	}
}

func (state *MasterOfShadesActor) handleAddHub(ctx actor.Context, msg domain.AddHubRequest) {
	sender := ForRequest(msg).ReplyTo(ctx)
	if _, exists := state.hubs[msg.Host]; exists {
		ctx.Send(sender, domain.AddHubResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: fmt.Errorf("hub %s already added", msg.Host),
			},
			Host: msg.Host,
		})
		return
	}
	port := msg.Port
	if port == 0 {
		port = shadeauto.DefaultPort
	}
	// probe the hub registration endpoint off the mailbox thread so a dead
	// hub cannot stall command routing
	client := state.hubClientProvider(msg.Host, port)
	self := ctx.Self()
	root := ctx.ActorSystem().Root
	go func() {
		probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := client.Register(probeCtx)
		root.Send(self, addHubResult{
			host:    msg.Host,
			port:    port,
			err:     err,
			replyTo: sender,
		})
	}()
}

func (state *MasterOfShadesActor) handleAddHubResult(ctx actor.Context, msg addHubResult) {
	if msg.err != nil {
		state.logger.Warn("master: hub probe failed", zap.String("host", msg.host), zap.Error(msg.err))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, domain.AddHubResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.err,
				},
				Host: msg.host,
			})
		}
		return
	}
	if _, exists := state.hubs[msg.host]; !exists {
		if err := state.spawnHub(ctx, msg.host, msg.port); err != nil {
			if msg.replyTo != nil {
				ctx.Send(msg.replyTo, domain.AddHubResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
					Host: msg.host,
				})
			}
			return
		}
	}
	if msg.replyTo != nil {
		ctx.Send(msg.replyTo, domain.AddHubResponse{Host: msg.host})
	}
}

func (state *MasterOfShadesActor) handleRemoveHub(ctx actor.Context, msg domain.RemoveHubRequest) {
	sender := ForRequest(msg).ReplyTo(ctx)
	hub, ok := state.hubs[msg.Host]
	if !ok {
		ctx.Send(sender, domain.RemoveHubResponse{Host: msg.Host, Found: false})
		return
	}
	// stop routing right away; the store purge waits for both Terminated
	// signals because Stop is asynchronous and a poller mid-batch would
	// recreate the hub's entries after an early purge
	removal := &hubRemoval{
		host:    msg.Host,
		waiting: 2,
		replyTo: sender,
	}
	state.removals[hub.pollerActor.Id] = removal
	state.removals[hub.hubActor.Id] = removal
	ctx.Stop(hub.pollerActor)
	ctx.Stop(hub.hubActor)
	delete(state.hubs, msg.Host)
}

func (state *MasterOfShadesActor) spawnHub(ctx actor.Context, host string, port uint) error {
	client := state.hubClientProvider(host, port)

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)
	hubProps := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewHubActor(host, client, state.logger)
	}, actor.WithSupervisor(supervisor))
	hubPID, err := ctx.SpawnNamed(hubProps, fmt.Sprintf("%s_%s", domain.ACTOR_ID_HUB_PREFIX, sanitizeActorName(host)))
	if err != nil {
		return err
	}

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	pollerSupervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)
	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&state.config, host, hubPID, state.store, state.normalizer, state.eventStream, state.logger)
	}, actor.WithSupervisor(pollerSupervisor))
	pollerPID, err := ctx.SpawnNamed(pollerProps, fmt.Sprintf("%s_%s", domain.ACTOR_ID_POLLER_PREFIX, sanitizeActorName(host)))
	if err != nil {
		ctx.Stop(hubPID)
		return err
	}

	state.hubs[host] = hubActors{
		hubActor:    hubPID,
		pollerActor: pollerPID,
	}
	return nil
}

func (state *MasterOfShadesActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterOfShadesActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	haDiscPID, err := ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return haDiscPID, nil
}

// EventStream exposes the internal event stream so the MQTT adapter can
// subscribe to sensor updates.
func (state *MasterOfShadesActor) EventStream() *eventstream.EventStream {
	return state.eventStream
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	return state.healthy == state.expected
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}

var actorNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func sanitizeActorName(host string) string {
	return actorNameSanitizer.ReplaceAllString(host, "_")
}
