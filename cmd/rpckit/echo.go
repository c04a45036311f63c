package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/rpckit/service"
)

var echoDesc = service.NewDescriptor("Echo", "1.0.0",
	service.WithAPI("ping", service.APIOptions{}),
	service.WithAPI("notify", service.APIOptions{NoReturn: true}),
	service.WithEvent("pinged", service.EventOptions{}),
)

func echoService(ctx context.Context) *service.Implementation {
	log := logger.Get(ctx)

	return service.Implement(echoDesc, func(emitter service.Emitter) (service.Instance, error) {
		return service.Handlers{
			"ping": func(ctx context.Context, call service.Call) (any, error) {
				if err := emitter.Emit("pinged", call.Context.Remote.ID); err != nil {
					return nil, err
				}
				if len(call.Args) == 0 {
					return nil, nil
				}
				return call.Args[0], nil
			},
			"notify": func(ctx context.Context, call service.Call) (any, error) {
				log.Info("Notification received",
					zap.String("remote", call.Context.Remote.Role), zap.Any("args", call.Args))
				return nil, nil
			},
		}, nil
	}, service.NeedsCallContext())
}
