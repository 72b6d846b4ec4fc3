package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"
	"github.com/berfenger/shadeauto2mqtt/internal/util/actorutil"
	"github.com/berfenger/shadeauto2mqtt/pkg/shadeauto"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/logger"
	"go.uber.org/zap"
)

// HubActor serializes access to one hub. Requests run as background tasks so
// a slow hub never blocks the mailbox thread; while one is in flight the
// actor stashes everything else.
type HubActor struct {
	host     string
	behavior actor.Behavior
	stash    *actorutil.Stash
	client   shadeauto.Client
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewHubActor(host string, client shadeauto.Client, logger *zap.Logger) *HubActor {
	act := &HubActor{
		host:     host,
		client:   client,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(fmt.Sprintf("%s_%s", domain.ACTOR_ID_HUB_PREFIX, host), logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *HubActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HubActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("hub@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      fmt.Sprintf("%s_%s", domain.ACTOR_ID_HUB_PREFIX, state.host),
			Healthy: true,
			State:   "idle",
		})
	case domain.DiscoverShadesRequest:
		state.logger.Debug("hub@default: DiscoverShadesRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.discoverShades),
			mapTaskResult[domain.DiscoverShadesResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.DiscoverShadesResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(12 * time.Second).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingHub)
	case domain.GetHubStatusRequest:
		state.logger.Debug("hub@default: GetHubStatusRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getHubStatus),
			mapTaskResult[domain.GetHubStatusResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetHubStatusResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(8 * time.Second).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingHub)
	case domain.FetchShadeStatusRequest:
		state.logger.Debug("hub@default: FetchShadeStatusRequest", zap.String("uid", msg.UID))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		uid := msg.UID
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*domain.FetchShadeStatusResponse, error) {
			return state.fetchShadeStatus(uid)
		}), mapTaskResult[domain.FetchShadeStatusResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.FetchShadeStatusResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
					UID: uid,
				},
				replyTo: sender,
			}
		}).WithTimeout(8 * time.Second).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingHub)
	case domain.SendShadeCommandRequest:
		state.logger.Debug("hub@default: SendShadeCommandRequest",
			zap.String("uid", msg.UID), zap.Int("position", msg.Position))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		uid, position := msg.UID, msg.Position
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*domain.SendShadeCommandResponse, error) {
			return state.sendShadeCommand(uid, position)
		}), mapTaskResult[domain.SendShadeCommandResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.SendShadeCommandResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
					UID:      uid,
					Position: position,
				},
				replyTo: sender,
			}
		}).WithTimeout(8 * time.Second).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingHub)
	default:
		state.logger.Debug("hub@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HubActor) WaitingHub(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("hub@WaitingHub backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		ctx.Send(msg.replyTo, msg.message)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("hub@WaitingHub stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (a *HubActor) discoverShades() (*domain.DiscoverShadesResponse, error) {
	shades, err := a.client.Discover(context.Background())
	if err != nil {
		logger.Error(err)
		return nil, err
	}
	return &domain.DiscoverShadesResponse{
		Shades: shades,
	}, nil
}

func (a *HubActor) getHubStatus() (*domain.GetHubStatusResponse, error) {
	statuses, err := a.client.Status(context.Background())
	if err != nil {
		logger.Error(err)
		return nil, err
	}
	return &domain.GetHubStatusResponse{
		Statuses: statuses,
	}, nil
}

func (a *HubActor) fetchShadeStatus(uid string) (*domain.FetchShadeStatusResponse, error) {
	status, err := a.client.FetchStatus(context.Background(), uid)
	if err != nil {
		logger.Error(err)
		return nil, err
	}
	return &domain.FetchShadeStatusResponse{
		UID:    uid,
		Status: status,
	}, nil
}

func (a *HubActor) sendShadeCommand(uid string, position int) (*domain.SendShadeCommandResponse, error) {
	err := a.client.Control(context.Background(), uid, position)
	if err != nil {
		logger.Error(err)
		return nil, err
	}
	return &domain.SendShadeCommandResponse{
		UID:      uid,
		Position: position,
	}, nil
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
