// Package transports imports every bundled transport so that each registers
// itself with the default registry.
package transports

import (
	_ "github.com/drblury/cloudmesh/transport/aws"
	_ "github.com/drblury/cloudmesh/transport/channel"
	_ "github.com/drblury/cloudmesh/transport/http"
	_ "github.com/drblury/cloudmesh/transport/kafka"
	_ "github.com/drblury/cloudmesh/transport/nats"
	_ "github.com/drblury/cloudmesh/transport/rabbitmq"
)
