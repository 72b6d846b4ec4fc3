package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/shadeauto2mqtt/internal/config"
	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"
	"github.com/berfenger/shadeauto2mqtt/internal/core/events"
	"github.com/berfenger/shadeauto2mqtt/internal/core/port"
	"github.com/berfenger/shadeauto2mqtt/internal/core/store"
	. "github.com/berfenger/shadeauto2mqtt/internal/util/actorutil"
	"github.com/berfenger/shadeauto2mqtt/pkg/shadeauto"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// A shade is considered settled when its reported position is within
	// this distance of the command target.
	POSITION_SETTLE_TOLERANCE = 2
)

// PollerActor drives the poll loop of one hub. It idles at a slow cadence
// and switches to a short burst after an accepted command, so position
// changes show up quickly while the steady-state load on the hub stays low.
// Discovery runs on its own cadence, independent of the poll phase.
type PollerActor struct {
	ActorWithStates
	scheduler *scheduler.TimerScheduler
	stash     *Stash

	hubActor    *actor.PID
	config      *config.Config
	host        string
	store       *store.Store
	normalizer  port.BatteryNormalizer
	eventStream *eventstream.EventStream

	pending        map[string]*pendingCommand
	burstRemaining int
	pollGen        int

	cancelPoll      scheduler.CancelFunc
	cancelDiscovery scheduler.CancelFunc

	logger *zap.Logger
}

// pendingCommand tracks an accepted command until the shade reaches its
// target. Each command gets its own id so a stale verify check cannot act on
// a newer command's behalf.
type pendingCommand struct {
	id      uuid.UUID
	target  int
	retried bool
}

// pollTick carries the generation it was scheduled under. Entering burst bumps
// the generation, so an idle tick that already fired and sat in the stash
// cannot replay into the burst phase and double its first poll.
type pollTick struct {
	gen int
}

type pollCompleted struct {
}

type discoveryTick struct {
}

type verifyTick struct {
	uid string
	id  uuid.UUID
}

func NewPollerActor(config *config.Config, host string, hubActor *actor.PID, st *store.Store,
	normalizer port.BatteryNormalizer, eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		config:      config,
		host:        host,
		hubActor:    hubActor,
		store:       st,
		normalizer:  normalizer,
		eventStream: eventStream,
		stash:       &Stash{},
		pending:     map[string]*pendingCommand{},
		logger:      ActorLogger(fmt.Sprintf("%s_%s", domain.ACTOR_ID_POLLER_PREFIX, host), logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(PollerStartingState{
		actor: act,
	})
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

func (a *PollerActor) actorId() string {
	return fmt.Sprintf("%s_%s", domain.ACTOR_ID_POLLER_PREFIX, a.host)
}

func (a *PollerActor) idleInterval() time.Duration {
	return time.Duration(a.config.PollConfig.IdleIntervalSeconds) * time.Second
}

func (a *PollerActor) burstInterval() time.Duration {
	return time.Duration(a.config.PollConfig.BurstIntervalSeconds) * time.Second
}

func (a *PollerActor) discoveryInterval() time.Duration {
	return time.Duration(a.config.PollConfig.DiscoveryIntervalSeconds) * time.Second
}

func (a *PollerActor) verifyDelay() time.Duration {
	return time.Duration(a.config.CommandConfig.VerifyDelaySeconds) * time.Second
}

// Starting state

type PollerStartingState struct {
	ActorState
	actor *PollerActor
}

func (state PollerStartingState) Name() string {
	return "starting"
}

func (state PollerStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("poller@starting started")

		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)

		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.hubActor, domain.DiscoverShadesRequest{}, 15*time.Second), func(err error) any {
			return domain.DiscoverShadesResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.actor.Become(PollerWaitingDiscoveryState{
			actor: state.actor,
		})
	case *actor.Restarting:
	case *actor.Stopping:
		state.actor.cancelTimers()
	default:
		state.actor.logger.Debug("poller@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Waiting initial discovery state

type PollerWaitingDiscoveryState struct {
	ActorState
	actor *PollerActor
}

func (state PollerWaitingDiscoveryState) Name() string {
	return "waitingDiscovery"
}

func (state PollerWaitingDiscoveryState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.DiscoverShadesResponse:
		state.actor.handleDiscoverResponse(ctx, msg)
		// enter idle, poll right away, arm the discovery cadence
		state.actor.cancelDiscovery = state.actor.scheduler.RequestOnce(state.actor.discoveryInterval(), ctx.Self(), discoveryTick{})
		state.actor.Become(PollerIdleState{
			actor: state.actor,
		})
		ctx.Send(ctx.Self(), pollTick{gen: state.actor.pollGen})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.actor.cancelTimers()
	default:
		state.actor.logger.Debug("poller@waitingDiscovery: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type PollerIdleState struct {
	ActorState
	actor *PollerActor
}

func (state PollerIdleState) Name() string {
	return "idle"
}

func (state PollerIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("poller@idle: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      state.actor.actorId(),
			Healthy: true,
			State:   state.Name(),
		})
	case pollTick:
		if msg.gen != state.actor.pollGen {
			return
		}
		state.actor.startPoll(ctx)
	case pollCompleted:
		state.actor.cancelPoll = state.actor.scheduler.RequestOnce(state.actor.idleInterval(), ctx.Self(), pollTick{gen: state.actor.pollGen})
	case discoveryTick:
		state.actor.startDiscovery(ctx)
	case domain.DiscoverShadesResponse:
		state.actor.handleDiscoverResponse(ctx, msg)
	case domain.IssueShadeCommandRequest:
		state.actor.handleCommand(ctx, msg)
	case verifyTick:
		state.actor.handleVerifyTick(ctx, msg)
	case domain.SendShadeCommandResponse:
		// retry submission result, nothing to do on success
		if msg.HasResponseError() {
			state.actor.logger.Warn("poller@idle: command retry failed", zap.String("uid", msg.UID), zap.Error(msg.GetResponseError()))
		}
	case *actor.Stopping:
		state.actor.cancelTimers()
	default:
		state.actor.logger.Debug("poller@idle: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Burst state

type PollerBurstState struct {
	ActorState
	actor *PollerActor
}

func (state PollerBurstState) Name() string {
	return "burst"
}

func (state PollerBurstState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("poller@burst: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      state.actor.actorId(),
			Healthy: true,
			State:   state.Name(),
		})
	case pollTick:
		if msg.gen != state.actor.pollGen {
			return
		}
		state.actor.startPoll(ctx)
	case pollCompleted:
		state.actor.burstRemaining--
		if state.actor.burstRemaining <= 0 || len(state.actor.pending) == 0 {
			// burst exhausted or every command settled
			state.actor.Become(PollerIdleState{
				actor: state.actor,
			})
			state.actor.cancelPoll = state.actor.scheduler.RequestOnce(state.actor.idleInterval(), ctx.Self(), pollTick{gen: state.actor.pollGen})
		} else {
			state.actor.cancelPoll = state.actor.scheduler.RequestOnce(state.actor.burstInterval(), ctx.Self(), pollTick{gen: state.actor.pollGen})
		}
	case discoveryTick:
		state.actor.startDiscovery(ctx)
	case domain.DiscoverShadesResponse:
		state.actor.handleDiscoverResponse(ctx, msg)
	case domain.IssueShadeCommandRequest:
		state.actor.handleCommand(ctx, msg)
	case verifyTick:
		state.actor.handleVerifyTick(ctx, msg)
	case domain.SendShadeCommandResponse:
		if msg.HasResponseError() {
			state.actor.logger.Warn("poller@burst: command retry failed", zap.String("uid", msg.UID), zap.Error(msg.GetResponseError()))
		}
	case *actor.Stopping:
		state.actor.cancelTimers()
	default:
		state.actor.logger.Debug("poller@burst: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Waiting poll state (stacked over idle or burst)

type PollerWaitingPollState struct {
	ActorState
	actor *PollerActor
}

func (state PollerWaitingPollState) Name() string {
	return "waitingPoll"
}

func (state PollerWaitingPollState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetHubStatusResponse:
		if msg.HasResponseError() {
			state.actor.logger.Warn("poller@waitingPoll: hub poll failed", zap.Error(msg.GetResponseError()))
			state.actor.markHubUnreachable()
		} else {
			state.actor.applyStatuses(msg.Statuses)
		}
		state.actor.UnbecomeStacked()
		ctx.Send(ctx.Self(), pollCompleted{})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.actor.cancelTimers()
	default:
		state.actor.logger.Debug("poller@waitingPoll: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Waiting command submission state (stacked over idle or burst)

type PollerWaitingCommandState struct {
	ActorState
	actor   *PollerActor
	replyTo *actor.PID
}

func (state PollerWaitingCommandState) Name() string {
	return "waitingCommand"
}

func (state PollerWaitingCommandState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.SendShadeCommandResponse:
		state.actor.UnbecomeStacked()
		if msg.HasResponseError() {
			// failed submission: report and stay in the current poll phase
			state.actor.logger.Warn("poller@waitingCommand: command failed", zap.String("uid", msg.UID), zap.Error(msg.GetResponseError()))
			if state.replyTo != nil {
				ctx.Send(state.replyTo, domain.IssueShadeCommandResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: msg.GetResponseError(),
					},
					UID: msg.UID,
				})
			}
			state.actor.stash.UnstashAll(ctx)
			return
		}
		state.actor.logger.Debug("poller@waitingCommand: command accepted",
			zap.String("uid", msg.UID), zap.Int("position", msg.Position))
		if state.replyTo != nil {
			ctx.Send(state.replyTo, domain.IssueShadeCommandResponse{
				UID:      msg.UID,
				Accepted: true,
			})
		}
		p := &pendingCommand{
			id:     uuid.New(),
			target: msg.Position,
		}
		state.actor.pending[msg.UID] = p
		if state.actor.config.CommandConfig.VerifyEnabled {
			state.actor.scheduler.RequestOnce(state.actor.verifyDelay(), ctx.Self(), verifyTick{uid: msg.UID, id: p.id})
		}
		state.actor.enterBurst(ctx)
		state.actor.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.actor.cancelTimers()
	default:
		state.actor.logger.Debug("poller@waitingCommand: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Waiting verify state (stacked over idle or burst)

type PollerWaitingVerifyState struct {
	ActorState
	actor *PollerActor
	uid   string
	id    uuid.UUID
}

func (state PollerWaitingVerifyState) Name() string {
	return "waitingVerify"
}

func (state PollerWaitingVerifyState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.FetchShadeStatusResponse:
		state.actor.UnbecomeStacked()
		state.actor.handleVerifyResult(ctx, state.uid, state.id, msg)
		state.actor.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.actor.cancelTimers()
	default:
		state.actor.logger.Debug("poller@waitingVerify: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Shared handlers

func (a *PollerActor) startPoll(ctx actor.Context) {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(a.hubActor, domain.GetHubStatusRequest{}, 10*time.Second), func(err error) any {
		return domain.GetHubStatusResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	})
	a.BecomeStacked(PollerWaitingPollState{
		actor: a,
	})
}

func (a *PollerActor) startDiscovery(ctx actor.Context) {
	// the cadence is armed on tick so a slow hub cannot stretch it
	a.cancelDiscovery = a.scheduler.RequestOnce(a.discoveryInterval(), ctx.Self(), discoveryTick{})
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(a.hubActor, domain.DiscoverShadesRequest{}, 15*time.Second), func(err error) any {
		return domain.DiscoverShadesResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	})
}

func (a *PollerActor) handleDiscoverResponse(ctx actor.Context, msg domain.DiscoverShadesResponse) {
	if msg.HasResponseError() {
		// keep the current shade set, discovery will run again
		a.logger.Warn("poller: discovery failed", zap.Error(msg.GetResponseError()))
		return
	}
	known := map[string]bool{}
	for _, shade := range msg.Shades {
		known[shade.UID] = true
		st, changed := a.store.Upsert(a.host, shade.UID, store.ShadeUpdate{Name: shade.Name})
		if changed {
			a.publishShadeState(st)
		}
	}
	// prune shades the hub no longer reports
	for _, uid := range a.store.ShadeUIDs(a.host) {
		if !known[uid] {
			a.logger.Info("poller: shade removed", zap.String("uid", uid))
			a.store.Remove(a.host, uid)
			delete(a.pending, uid)
			a.eventStream.Publish(domain.CoverAvailabilityUpdateEvent{
				SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
					Id: events.CoverId(uid),
				},
				Available: false,
			})
		}
	}
	if parent := ctx.Parent(); parent != nil {
		ctx.Send(parent, domain.ShadesDiscovered{
			Hub:    a.host,
			Shades: msg.Shades,
		})
	}
}

func (a *PollerActor) applyStatuses(statuses []shadeauto.ShadeStatus) {
	seen := map[string]bool{}
	for _, status := range statuses {
		seen[status.UID] = true
		battery := a.normalizer.Normalize(status.RawBattery)
		st, changed := a.store.Upsert(a.host, status.UID, store.ShadeUpdate{
			Name:       status.Name,
			Position:   status.Position,
			RawBattery: status.RawBattery,
			Battery:    battery,
		})
		if changed {
			a.publishShadeState(st)
		}
		// a shade close enough to its command target is settled
		if p := a.pending[status.UID]; p != nil && status.Position != nil &&
			absInt(*status.Position-p.target) <= POSITION_SETTLE_TOLERANCE {
			delete(a.pending, status.UID)
		}
	}
	// shades missing from the bulk response keep their cached values
	for _, uid := range a.store.ShadeUIDs(a.host) {
		if !seen[uid] {
			if st, changed := a.store.MarkUnreachable(a.host, uid); changed {
				a.publishShadeState(st)
			}
		}
	}
}

func (a *PollerActor) markHubUnreachable() {
	for _, st := range a.store.MarkHubUnreachable(a.host) {
		a.publishShadeState(st)
	}
}

func (a *PollerActor) publishShadeState(st store.ShadeState) {
	for _, ev := range events.ShadeStateToUpdateEvents(st) {
		a.eventStream.Publish(ev)
	}
}

func (a *PollerActor) handleCommand(ctx actor.Context, msg domain.IssueShadeCommandRequest) {
	sender := ForRequest(msg).ReplyTo(ctx)
	if err := msg.Command.Validate(); err != nil {
		a.logger.Debug("poller: command rejected", zap.String("uid", msg.UID), zap.Error(err))
		ctx.Send(sender, domain.IssueShadeCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			UID:    msg.UID,
			Reason: err.Error(),
		})
		return
	}
	if _, ok := a.store.Get(a.host, msg.UID); !ok {
		ctx.Send(sender, domain.IssueShadeCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: shadeauto.ErrNotFound,
			},
			UID:    msg.UID,
			Reason: "unknown shade",
		})
		return
	}
	target := msg.Command.TargetPosition()
	a.logger.Debug("poller: command submit", zap.String("uid", msg.UID),
		zap.String("command", msg.Command.ShadeCommand()), zap.Int("target", target))
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(a.hubActor, domain.SendShadeCommandRequest{
		UID:      msg.UID,
		Position: target,
	}, 10*time.Second), func(err error) any {
		return domain.SendShadeCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			UID:      msg.UID,
			Position: target,
		}
	})
	a.BecomeStacked(PollerWaitingCommandState{
		actor:   a,
		replyTo: sender,
	})
}

func (a *PollerActor) handleVerifyTick(ctx actor.Context, msg verifyTick) {
	p := a.pending[msg.uid]
	if p == nil || p.id != msg.id {
		// already settled or superseded by a newer command
		return
	}
	a.logger.Debug("poller: verify check", zap.String("uid", msg.uid))
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(a.hubActor, domain.FetchShadeStatusRequest{UID: msg.uid}, 10*time.Second), func(err error) any {
		return domain.FetchShadeStatusResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			UID: msg.uid,
		}
	})
	a.BecomeStacked(PollerWaitingVerifyState{
		actor: a,
		uid:   msg.uid,
		id:    msg.id,
	})
}

func (a *PollerActor) handleVerifyResult(ctx actor.Context, uid string, id uuid.UUID, msg domain.FetchShadeStatusResponse) {
	p := a.pending[uid]
	if p == nil || p.id != id {
		return
	}
	if msg.HasResponseError() {
		err := msg.GetResponseError()
		if errors.Is(err, shadeauto.ErrNotFound) {
			// the hub no longer knows this shade
			a.logger.Info("poller: shade gone during verify", zap.String("uid", uid))
			delete(a.pending, uid)
			a.store.Remove(a.host, uid)
			a.eventStream.Publish(domain.CoverAvailabilityUpdateEvent{
				SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
					Id: events.CoverId(uid),
				},
				Available: false,
			})
			return
		}
		if !p.retried {
			p.retried = true
			a.scheduler.RequestOnce(a.verifyDelay(), ctx.Self(), verifyTick{uid: uid, id: id})
		} else {
			a.logger.Warn("poller: verify failed, giving up", zap.String("uid", uid), zap.Error(err))
			delete(a.pending, uid)
		}
		return
	}
	if msg.Status == nil || msg.Status.Position == nil {
		a.logger.Warn("poller: verify status has no position", zap.String("uid", uid))
		delete(a.pending, uid)
		return
	}
	battery := a.normalizer.Normalize(msg.Status.RawBattery)
	st, changed := a.store.Upsert(a.host, uid, store.ShadeUpdate{
		Name:       msg.Status.Name,
		Position:   msg.Status.Position,
		RawBattery: msg.Status.RawBattery,
		Battery:    battery,
	})
	if changed {
		a.publishShadeState(st)
	}
	if absInt(*msg.Status.Position-p.target) <= POSITION_SETTLE_TOLERANCE {
		a.logger.Debug("poller: verify ok", zap.String("uid", uid), zap.Int("position", *msg.Status.Position))
		delete(a.pending, uid)
		return
	}
	if !p.retried {
		// the shade missed its target, resend the command once
		a.logger.Info("poller: verify mismatch, resending command",
			zap.String("uid", uid), zap.Int("position", *msg.Status.Position), zap.Int("target", p.target))
		p.retried = true
		ctx.Request(a.hubActor, domain.SendShadeCommandRequest{
			UID:      uid,
			Position: p.target,
		})
		a.scheduler.RequestOnce(a.verifyDelay(), ctx.Self(), verifyTick{uid: uid, id: id})
		a.enterBurst(ctx)
		return
	}
	a.logger.Warn("poller: shade did not reach target", zap.String("uid", uid),
		zap.Int("position", *msg.Status.Position), zap.Int("target", p.target))
	delete(a.pending, uid)
}

// enterBurst switches to burst polling with a full cycle budget. Entering
// while already bursting resets the budget instead of extending it.
func (a *PollerActor) enterBurst(ctx actor.Context) {
	if a.cancelPoll != nil {
		a.cancelPoll()
		a.cancelPoll = nil
	}
	a.burstRemaining = int(a.config.PollConfig.BurstCycles)
	// invalidate any tick already in flight from the previous phase
	a.pollGen++
	a.Become(PollerBurstState{
		actor: a,
	})
	ctx.Send(ctx.Self(), pollTick{gen: a.pollGen})
}

func (a *PollerActor) cancelTimers() {
	if a.cancelPoll != nil {
		a.cancelPoll()
		a.cancelPoll = nil
	}
	if a.cancelDiscovery != nil {
		a.cancelDiscovery()
		a.cancelDiscovery = nil
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
