package actor

import (
	"errors"
	"fmt"
	"testing"
	"time"

	adactor "github.com/berfenger/shadeauto2mqtt/internal/adapter/actor"
	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"
	"github.com/berfenger/shadeauto2mqtt/internal/core/service"
	"github.com/berfenger/shadeauto2mqtt/internal/core/store"
	"github.com/berfenger/shadeauto2mqtt/internal/util"
	"github.com/berfenger/shadeauto2mqtt/pkg/shadeauto"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMasterActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	cfg.Hubs = "testhub"
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	client := shadeauto.CreateTestClient()
	pos := 40
	client.SetShade(shadeauto.ShadeDescriptor{UID: "100", Name: "Living Room"},
		shadeauto.ShadeStatus{UID: "100", Position: &pos})

	st := store.NewStore()
	normalizer := service.NewRangeBatteryNormalizer(cfg.BatteryConfig.LowThreshold)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfShadesActor(cfg, st, normalizer, func(host string, port uint) shadeauto.Client {
			return client
		}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	fmt.Printf("Health response: %+v\n", healthResp)
	assert.NotNil(t, healthResp)

	assert.True(t, healthResp.Healthy, "healthy is true")

	context.Stop(pid)

	as.Shutdown()
}

func TestMasterActorCommandRouting(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	cfg.Hubs = "testhub"
	cfg.PollConfig.IdleIntervalSeconds = 1
	logger := zap.Must(zap.NewDevelopment())

	as := actor.NewActorSystem()
	context := as.Root

	client := shadeauto.CreateTestClient()
	pos := 40
	client.SetShade(shadeauto.ShadeDescriptor{UID: "100", Name: "Living Room"},
		shadeauto.ShadeStatus{UID: "100", Position: &pos})

	st := store.NewStore()
	normalizer := service.NewRangeBatteryNormalizer(cfg.BatteryConfig.LowThreshold)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfShadesActor(cfg, st, normalizer, func(host string, port uint) shadeauto.Client {
			return client
		}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(2 * time.Second)

	// command routed to the owning hub's poller
	res, err := context.RequestFuture(pid, domain.IssueShadeCommandRequest{
		UID:     "100",
		Command: domain.OpenShadeCommand{},
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := res.(domain.IssueShadeCommandResponse)
	assert.True(ok)
	assert.True(resp.Accepted, "command should be accepted")
	assert.Len(client.ControlCalls(), 1)

	// command for a shade no hub owns
	res, err = context.RequestFuture(pid, domain.IssueShadeCommandRequest{
		UID:     "999",
		Command: domain.OpenShadeCommand{},
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok = res.(domain.IssueShadeCommandResponse)
	assert.True(ok)
	assert.False(resp.Accepted)
	assert.True(errors.Is(resp.GetResponseError(), shadeauto.ErrNotFound))

	context.Stop(pid)
	as.Shutdown()
}

func TestMasterActorAddRemoveHub(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	cfg.Hubs = ""
	cfg.PollConfig.IdleIntervalSeconds = 1
	logger := zap.Must(zap.NewDevelopment())

	as := actor.NewActorSystem()
	context := as.Root

	client := shadeauto.CreateTestClient()
	pos := 40
	client.SetShade(shadeauto.ShadeDescriptor{UID: "100", Name: "Living Room"},
		shadeauto.ShadeStatus{UID: "100", Position: &pos})

	st := store.NewStore()
	normalizer := service.NewRangeBatteryNormalizer(cfg.BatteryConfig.LowThreshold)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfShadesActor(cfg, st, normalizer, func(host string, port uint) shadeauto.Client {
			return client
		}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(1 * time.Second)

	// add a hub at runtime
	res, err := context.RequestFuture(pid, domain.AddHubRequest{Host: "newhub"}, 15*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	addResp, ok := res.(domain.AddHubResponse)
	assert.True(ok)
	assert.False(addResp.HasResponseError())
	assert.Equal("newhub", addResp.Host)

	// adding the same hub twice fails
	res, err = context.RequestFuture(pid, domain.AddHubRequest{Host: "newhub"}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	addResp, ok = res.(domain.AddHubResponse)
	assert.True(ok)
	assert.True(addResp.HasResponseError())

	// wait for the first poll to land
	time.Sleep(2 * time.Second)
	assert.NotEmpty(st.Snapshot(), "poll should populate the cache")

	// remove the hub, its shades go with it
	res, err = context.RequestFuture(pid, domain.RemoveHubRequest{Host: "newhub"}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	removeResp, ok := res.(domain.RemoveHubResponse)
	assert.True(ok)
	assert.True(removeResp.Found)
	assert.Empty(st.Snapshot(), "removal should purge the cache")

	// removing an unknown hub reports not found
	res, err = context.RequestFuture(pid, domain.RemoveHubRequest{Host: "newhub"}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	removeResp, ok = res.(domain.RemoveHubResponse)
	assert.True(ok)
	assert.False(removeResp.Found)

	context.Stop(pid)
	as.Shutdown()
}

func TestMasterActorRemoveHubDiscardsLatePoll(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	cfg.Hubs = "testhub"
	cfg.PollConfig.IdleIntervalSeconds = 1
	logger := zap.Must(zap.NewDevelopment())

	as := actor.NewActorSystem()
	context := as.Root

	client := shadeauto.CreateTestClient()
	pos := 40
	client.SetShade(shadeauto.ShadeDescriptor{UID: "100", Name: "Living Room"},
		shadeauto.ShadeStatus{UID: "100", Position: &pos})
	// slow hub: a poll is still in flight when the hub gets removed
	client.StatusDelay = 2 * time.Second

	st := store.NewStore()
	normalizer := service.NewRangeBatteryNormalizer(cfg.BatteryConfig.LowThreshold)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfShadesActor(cfg, st, normalizer, func(host string, port uint) shadeauto.Client {
			return client
		}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	if err != nil {
		t.Error(err)
		return
	}

	// discovery has populated the cache, the first status poll is mid-flight
	time.Sleep(1 * time.Second)
	assert.NotEmpty(st.Snapshot(), "discovery should populate the cache")

	res, err := context.RequestFuture(pid, domain.RemoveHubRequest{Host: "testhub"}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	removeResp, ok := res.(domain.RemoveHubResponse)
	assert.True(ok)
	assert.True(removeResp.Found)
	assert.Empty(st.Snapshot(), "removal should purge the cache")

	// the delayed poll result lands after removal and must be discarded
	time.Sleep(3 * time.Second)
	assert.Empty(st.Snapshot(), "late poll result must not resurrect removed shades")

	context.Stop(pid)
	as.Shutdown()
}

func healthCheck(ctx *actor.RootContext, pid *actor.PID) (*domain.ActorHealthResponse, error) {
	resp, err := ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	if err != nil {
		return nil, err
	}
	hcr, ok := resp.(domain.ActorHealthResponse)
	if !ok {
		return nil, errors.New("unexpected response type")
	}
	return &hcr, nil
}
