package actor

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"
	"github.com/berfenger/shadeauto2mqtt/internal/util/actorutil"
	"github.com/berfenger/shadeauto2mqtt/pkg/shadeauto"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func spawnTestHubActor(client *shadeauto.TestClient) (*actor.ActorSystem, *actor.PID) {
	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	props := actor.PropsFromProducer(func() actor.Actor { return NewHubActor("testhub", client, logger) })
	pid := context.Spawn(props)

	return as, pid
}

func TestHubActorDiscoverAndStatus(t *testing.T) {

	assert := assert.New(t)

	client := shadeauto.CreateTestClient()
	pos := 50
	raw := 6.2
	client.SetShade(shadeauto.ShadeDescriptor{UID: "100", Name: "Living Room"},
		shadeauto.ShadeStatus{UID: "100", Position: &pos, RawBattery: &raw})

	as, pid := spawnTestHubActor(client)
	defer as.Shutdown()
	context := as.Root

	time.Sleep(1 * time.Second)

	result, err := context.RequestFuture(pid, domain.DiscoverShadesRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	discResp, ok := result.(domain.DiscoverShadesResponse)
	assert.True(ok)
	assert.False(discResp.HasResponseError())
	assert.Len(discResp.Shades, 1)
	assert.Equal("100", discResp.Shades[0].UID)
	assert.Equal("Living Room", discResp.Shades[0].Name)

	result, err = context.RequestFuture(pid, domain.GetHubStatusRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	statusResp, ok := result.(domain.GetHubStatusResponse)
	assert.True(ok)
	assert.False(statusResp.HasResponseError())
	assert.Len(statusResp.Statuses, 1)
	assert.Equal(50, *statusResp.Statuses[0].Position)

	result, err = context.RequestFuture(pid, domain.FetchShadeStatusRequest{UID: "100"}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	fetchResp, ok := result.(domain.FetchShadeStatusResponse)
	assert.True(ok)
	assert.False(fetchResp.HasResponseError())
	assert.Equal(50, *fetchResp.Status.Position)

	context.Stop(pid)
}

func TestHubActorControl(t *testing.T) {

	assert := assert.New(t)

	client := shadeauto.CreateTestClient()
	pos := 0
	client.SetShade(shadeauto.ShadeDescriptor{UID: "200", Name: "Bedroom"},
		shadeauto.ShadeStatus{UID: "200", Position: &pos})

	as, pid := spawnTestHubActor(client)
	defer as.Shutdown()
	context := as.Root

	time.Sleep(1 * time.Second)

	result, err := context.RequestFuture(pid, domain.SendShadeCommandRequest{
		UID:      "200",
		Position: 100,
	}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	cmdResp, ok := result.(domain.SendShadeCommandResponse)
	assert.True(ok)
	assert.False(cmdResp.HasResponseError())
	assert.Equal("200", cmdResp.UID)
	assert.Equal(100, cmdResp.Position)

	calls := client.ControlCalls()
	assert.Len(calls, 1)
	assert.Equal(100, calls[0].Position)

	context.Stop(pid)
}

func TestHubActorErrorPassthrough(t *testing.T) {

	assert := assert.New(t)

	client := shadeauto.CreateTestClient()
	client.SetStatusErr(errors.New("connection refused"))

	as, pid := spawnTestHubActor(client)
	defer as.Shutdown()
	context := as.Root

	time.Sleep(1 * time.Second)

	result, err := context.RequestFuture(pid, domain.GetHubStatusRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	statusResp, ok := result.(domain.GetHubStatusResponse)
	assert.True(ok)
	assert.True(statusResp.HasResponseError())

	// missing shade maps to a not found error
	client.SetStatusErr(nil)
	result, err = context.RequestFuture(pid, domain.FetchShadeStatusRequest{UID: "999"}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	fetchResp, ok := result.(domain.FetchShadeStatusResponse)
	assert.True(ok)
	assert.True(fetchResp.HasResponseError())
	assert.True(errors.Is(fetchResp.GetResponseError(), shadeauto.ErrNotFound))

	context.Stop(pid)
}
