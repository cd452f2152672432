package health

import (
	"context"

	"imbroker/internal/broker"
)

// BusService reports whether the broker's bus object is published.
type BusService interface {
	Valid() bool
	Problems() error
}

// BusCheck is unhealthy while the broker object is not exported or its
// service name is owned by someone else.
func BusCheck(s BusService) Check {
	return func(ctx context.Context) CheckResult {
		if !s.Valid() {
			result := CheckResult{
				Status:  StatusUnhealthy,
				Message: "broker service not published",
			}
			if err := s.Problems(); err != nil {
				result.Error = err.Error()
			}
			return result
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "broker service published",
		}
	}
}

// BrokerState exposes the registry and focus of a broker.
type BrokerState interface {
	Clients() []broker.ClientID
	Active() (broker.ClientID, bool)
}

// BrokerCheck summarises the registry. It is always healthy; the details
// carry the client count and the active client.
func BrokerCheck(s BrokerState) Check {
	return func(ctx context.Context) CheckResult {
		details := map[string]any{
			"clients": len(s.Clients()),
		}
		if id, ok := s.Active(); ok {
			details["active"] = string(id)
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "broker running",
			Details: details,
		}
	}
}
