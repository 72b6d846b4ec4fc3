package actor

import (
	"errors"
	"testing"
	"time"

	adactor "github.com/berfenger/shadeauto2mqtt/internal/adapter/actor"
	"github.com/berfenger/shadeauto2mqtt/internal/config"
	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"
	"github.com/berfenger/shadeauto2mqtt/internal/core/service"
	"github.com/berfenger/shadeauto2mqtt/internal/core/store"
	"github.com/berfenger/shadeauto2mqtt/internal/util"
	"github.com/berfenger/shadeauto2mqtt/internal/util/actorutil"
	"github.com/berfenger/shadeauto2mqtt/pkg/shadeauto"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func pollerTestConfig() config.Config {
	cfg := util.LoadTestConfig()
	cfg.PollConfig = config.PollConfig{
		IdleIntervalSeconds:      1,
		BurstIntervalSeconds:     1,
		BurstCycles:              2,
		DiscoveryIntervalSeconds: 60,
	}
	cfg.CommandConfig = config.CommandConfig{
		VerifyEnabled: false,
	}
	return cfg
}

func spawnPoller(t *testing.T, cfg *config.Config, client *shadeauto.TestClient, st *store.Store) (*actor.ActorSystem, *actor.PID) {
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	hubProps := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewHubActor("testhub", client, logger)
	})
	hubPID := context.Spawn(hubProps)

	normalizer := service.NewRangeBatteryNormalizer(cfg.BatteryConfig.LowThreshold)
	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(cfg, "testhub", hubPID, st, normalizer, &eventstream.EventStream{}, logger)
	})
	pollerPID := context.Spawn(pollerProps)

	return as, pollerPID
}

func TestPollerDiscoverAndPoll(t *testing.T) {

	assert := assert.New(t)

	cfg := pollerTestConfig()
	client := shadeauto.CreateTestClient()
	pos := 50
	raw := 6.2
	client.SetShade(shadeauto.ShadeDescriptor{UID: "100", Name: "Living Room"},
		shadeauto.ShadeStatus{UID: "100", Position: &pos, RawBattery: &raw})

	st := store.NewStore()
	as, pollerPID := spawnPoller(t, &cfg, client, st)
	defer as.Shutdown()
	context := as.Root

	time.Sleep(2 * time.Second)

	hcr, err := healthCheck(context, pollerPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.True(hcr.Healthy, "poller should be healthy")
	assert.Equal("idle", hcr.State, "poller should idle with no pending command")

	shade, ok := st.Get("testhub", "100")
	assert.True(ok, "shade should be cached")
	assert.Equal("Living Room", shade.Name)
	assert.True(shade.PositionKnown)
	assert.Equal(50, shade.Position)
	assert.True(shade.Battery.Known)
	assert.True(shade.Reachable)

	context.Stop(pollerPID)
}

func TestPollerKeepsLastKnownGoodOnFailure(t *testing.T) {

	assert := assert.New(t)

	cfg := pollerTestConfig()
	client := shadeauto.CreateTestClient()
	pos := 30
	client.SetShade(shadeauto.ShadeDescriptor{UID: "200", Name: "Bedroom"},
		shadeauto.ShadeStatus{UID: "200", Position: &pos})

	st := store.NewStore()
	as, pollerPID := spawnPoller(t, &cfg, client, st)
	defer as.Shutdown()
	context := as.Root

	time.Sleep(2 * time.Second)

	shade, ok := st.Get("testhub", "200")
	assert.True(ok)
	assert.True(shade.Reachable)

	// hub goes dark, cached position must survive
	client.SetStatusErr(errors.New("connection refused"))
	time.Sleep(2 * time.Second)

	shade, ok = st.Get("testhub", "200")
	assert.True(ok, "shade stays cached while unreachable")
	assert.False(shade.Reachable)
	assert.True(shade.PositionKnown)
	assert.Equal(30, shade.Position)

	// hub comes back
	client.SetStatusErr(nil)
	time.Sleep(2 * time.Second)

	shade, _ = st.Get("testhub", "200")
	assert.True(shade.Reachable)

	context.Stop(pollerPID)
}

func TestPollerCommandTriggersBurst(t *testing.T) {

	assert := assert.New(t)

	cfg := pollerTestConfig()
	client := shadeauto.CreateTestClient()
	pos := 0
	client.SetShade(shadeauto.ShadeDescriptor{UID: "300", Name: "Office"},
		shadeauto.ShadeStatus{UID: "300", Position: &pos})

	st := store.NewStore()
	as, pollerPID := spawnPoller(t, &cfg, client, st)
	defer as.Shutdown()
	context := as.Root

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pollerPID, domain.IssueShadeCommandRequest{
		UID:     "300",
		Command: domain.OpenShadeCommand{},
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := res.(domain.IssueShadeCommandResponse)
	assert.True(ok)
	assert.True(resp.Accepted, "open command should be accepted")

	hcr, err := healthCheck(context, pollerPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal("burst", hcr.State, "accepted command should switch to burst")

	calls := client.ControlCalls()
	assert.Len(calls, 1)
	assert.Equal("300", calls[0].UID)
	assert.Equal(shadeauto.PositionOpen, calls[0].Position)

	// shade reaches target: pending settles, poller drops back to idle
	client.SetPosition("300", shadeauto.PositionOpen)
	time.Sleep(3 * time.Second)

	hcr, err = healthCheck(context, pollerPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal("idle", hcr.State, "poller should return to idle after burst")

	shade, _ := st.Get("testhub", "300")
	assert.Equal(shadeauto.PositionOpen, shade.Position)

	context.Stop(pollerPID)
}

func TestPollerBurstIgnoresStaleIdleTick(t *testing.T) {

	assert := assert.New(t)

	cfg := pollerTestConfig()
	cfg.PollConfig = config.PollConfig{
		IdleIntervalSeconds:      2,
		BurstIntervalSeconds:     1,
		BurstCycles:              3,
		DiscoveryIntervalSeconds: 60,
	}
	client := shadeauto.CreateTestClient()
	pos := 0
	client.SetShade(shadeauto.ShadeDescriptor{UID: "600", Name: "Attic"},
		shadeauto.ShadeStatus{UID: "600", Position: &pos})
	// hold the command long enough for an idle tick to land in the stash
	client.ControlDelay = 2 * time.Second

	st := store.NewStore()
	as, pollerPID := spawnPoller(t, &cfg, client, st)
	defer as.Shutdown()
	context := as.Root

	time.Sleep(1 * time.Second)

	res, err := context.RequestFuture(pollerPID, domain.IssueShadeCommandRequest{
		UID:     "600",
		Command: domain.OpenShadeCommand{},
	}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := res.(domain.IssueShadeCommandResponse)
	assert.True(ok)
	assert.True(resp.Accepted)

	time.Sleep(2500 * time.Millisecond)

	// one idle poll before the command plus the three burst cycles; the idle
	// tick that fired while the command was in flight must not poll again
	assert.Equal(4, client.StatusCalls(), "burst must ignore the idle tick stashed during command submit")

	context.Stop(pollerPID)
}

func TestPollerRejectsInvalidCommand(t *testing.T) {

	assert := assert.New(t)

	cfg := pollerTestConfig()
	client := shadeauto.CreateTestClient()
	pos := 10
	client.SetShade(shadeauto.ShadeDescriptor{UID: "400", Name: "Kitchen"},
		shadeauto.ShadeStatus{UID: "400", Position: &pos})

	st := store.NewStore()
	as, pollerPID := spawnPoller(t, &cfg, client, st)
	defer as.Shutdown()
	context := as.Root

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pollerPID, domain.IssueShadeCommandRequest{
		UID:     "400",
		Command: domain.SetShadePositionCommand{Position: 150},
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := res.(domain.IssueShadeCommandResponse)
	assert.True(ok)
	assert.False(resp.Accepted, "out of range command should be rejected")
	assert.NotEmpty(resp.Reason)
	assert.True(errors.Is(resp.GetResponseError(), shadeauto.ErrRejected))

	// rejected before reaching the hub, no burst
	assert.Len(client.ControlCalls(), 0)
	hcr, err := healthCheck(context, pollerPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal("idle", hcr.State, "rejected command should not trigger burst")

	// unknown shade
	res, err = context.RequestFuture(pollerPID, domain.IssueShadeCommandRequest{
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

	context.Stop(pollerPID)
}

func TestPollerVerifyResendsCommand(t *testing.T) {

	assert := assert.New(t)

	cfg := pollerTestConfig()
	cfg.CommandConfig = config.CommandConfig{
		VerifyEnabled:      true,
		VerifyDelaySeconds: 1,
	}
	client := shadeauto.CreateTestClient()
	pos := 0
	client.SetShade(shadeauto.ShadeDescriptor{UID: "500", Name: "Hall"},
		shadeauto.ShadeStatus{UID: "500", Position: &pos})

	st := store.NewStore()
	as, pollerPID := spawnPoller(t, &cfg, client, st)
	defer as.Shutdown()
	context := as.Root

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pollerPID, domain.IssueShadeCommandRequest{
		UID:     "500",
		Command: domain.SetShadePositionCommand{Position: 80},
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := res.(domain.IssueShadeCommandResponse)
	assert.True(ok)
	assert.True(resp.Accepted)

	// the shade never moves, the verify check should resend once
	time.Sleep(3 * time.Second)

	calls := client.ControlCalls()
	assert.GreaterOrEqual(len(calls), 2, "verify mismatch should resend the command")
	for _, call := range calls {
		assert.Equal("500", call.UID)
		assert.Equal(80, call.Position)
	}

	context.Stop(pollerPID)
}
