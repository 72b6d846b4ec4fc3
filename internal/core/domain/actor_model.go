package domain

import "github.com/berfenger/shadeauto2mqtt/pkg/shadeauto"

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"

	// Per-hub actors are named with these prefixes plus a sanitized host.
	ACTOR_ID_HUB_PREFIX    = "hub"
	ACTOR_ID_POLLER_PREFIX = "poller"
)

// Hub client actor messages

type DiscoverShadesRequest struct {
	ActorRequestMixIn
}

type DiscoverShadesResponse struct {
	ActorResponseMixIn
	Shades []shadeauto.ShadeDescriptor
}

type GetHubStatusRequest struct {
	ActorRequestMixIn
}

type GetHubStatusResponse struct {
	ActorResponseMixIn
	Statuses []shadeauto.ShadeStatus
}

type FetchShadeStatusRequest struct {
	ActorRequestMixIn
	UID string
}

type FetchShadeStatusResponse struct {
	ActorResponseMixIn
	UID    string
	Status *shadeauto.ShadeStatus
}

type SendShadeCommandRequest struct {
	ActorRequestMixIn
	UID      string
	Position int
}

type SendShadeCommandResponse struct {
	ActorResponseMixIn
	UID      string
	Position int
}

// Command dispatch

// IssueShadeCommandRequest dispatches a user command to a shade. The master
// routes it to the owning hub's poller, which validates, forwards to the hub
// and switches to burst polling on accepted submission.
type IssueShadeCommandRequest struct {
	ActorRequestMixIn
	UID     string
	Command ShadeCommand
}

type IssueShadeCommandResponse struct {
	ActorResponseMixIn
	UID      string
	Accepted bool
	// Reason is set when the command was rejected without touching the hub.
	Reason string
}

// Hub lifecycle (master)

type AddHubRequest struct {
	ActorRequestMixIn
	Host string
	Port uint
}

type AddHubResponse struct {
	ActorResponseMixIn
	Host string
}

type RemoveHubRequest struct {
	ActorRequestMixIn
	Host string
}

type RemoveHubResponse struct {
	ActorResponseMixIn
	Host  string
	Found bool
}

// ShadesDiscovered is published by a poller after every discovery run so the
// HA discovery actor can announce the current shade set.
type ShadesDiscovered struct {
	Hub    string
	Shades []shadeauto.ShadeDescriptor
}

// MQTT actor messages

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Covers  []GenericCover
	Sensors []GenericSensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// Health check

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
