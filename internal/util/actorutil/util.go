package actorutil

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"
	"github.com/berfenger/shadeauto2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps an MQTT cover command to the actor request
// that dispatches it. Returns nil for payloads that are not commands.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.ActorRequest, error) {
	switch cmd.Command {
	case mqtt.COMMAND_COVER:
		switch cmd.Payload {
		case mqtt.MQTT_PAYLOAD_OPEN:
			return domain.IssueShadeCommandRequest{
				UID:     cmd.DeviceId,
				Command: domain.OpenShadeCommand{},
			}, nil
		case mqtt.MQTT_PAYLOAD_CLOSE:
			return domain.IssueShadeCommandRequest{
				UID:     cmd.DeviceId,
				Command: domain.CloseShadeCommand{},
			}, nil
		}
		return nil, nil
	case mqtt.COMMAND_COVER_POSITION:
		value, err := strconv.ParseInt(cmd.Payload, 10, 64)
		if err != nil {
			return nil, err
		}
		return domain.IssueShadeCommandRequest{
			UID:     cmd.DeviceId,
			Command: domain.SetShadePositionCommand{Position: int(value)},
		}, nil
	}
	return nil, nil
}
