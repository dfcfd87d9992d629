package nats

import (
	"github.com/TreeSnap/Export-Service/internal/api/handlers/user"
	"github.com/nats-io/nats.go"
)

type Route struct {
	Durable string
	Handler nats.MsgHandler
}

func Routes(deleted *user.DeletedHandler) map[string]Route {
	return map[string]Route{
		// User events
		"users.deleted": {Durable: "export-users-deleted", Handler: deleted.Handle},
	}
}
