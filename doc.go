// Package cloudmesh runs a small mesh of HTTP services that find each other
// through a service registry, read their properties from a central config
// server and exchange messages over named channels.
//
// The registry server keeps instances alive through heartbeats, replicates
// changes to peer servers and evicts expired leases. Next to it the same
// process serves a config directory, routes /{serviceId}/** to the
// registered instances through a session-gated reverse proxy, and keeps a
// configured set of server instances running by relaunching missing ones.
//
// A minimal setup fills Config (or loads it with LoadConfig), picks a Kind
// and calls NewApp followed by Run:
//
//	conf, _ := cloudmesh.LoadConfig("cloudmesh.yaml", []string{"peer1"})
//	svc, _ := cloudmesh.NewApp(ctx, cloudmesh.KindServer, conf, logger, cloudmesh.Dependencies{})
//	_ = svc.Run(ctx)
//
// # Channels
//
// Every service binds six logical channels onto broker destinations:
//   - output and input share the "messages" destination and carry strings
//   - customOutChannel1/customInChannel1 share "custom-1"
//   - customOutChannel2/customInChannel2 share "custom-2"
//
// The custom channels carry Message envelopes; an input binding may restrict
// the envelope types it accepts.
//
// # Transports
//
// The channel transport keeps everything in process. Kafka, RabbitMQ, NATS,
// HTTP and AWS SNS/SQS connect services running in separate processes.
//
// # Middleware
//
// Listeners run behind correlation IDs, message logging, OpenTelemetry
// tracing, Prometheus metrics, retries with exponential backoff, poison
// queue forwarding and panic recovery. Custom middleware can be added via
// binding dependencies.
package cloudmesh
