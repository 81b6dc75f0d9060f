// Package events holds the domain Event type and the fan-out table that
// maps an event kind to the channels it is published on.
package events

import "time"

// Kind is the type of domain event published by the Slot Engine.
type Kind string

const (
	KindDeployStart    Kind = "deploy_start"
	KindDeployProgress Kind = "deploy_progress"
	KindDeployComplete Kind = "deploy_complete"
	KindDeployError    Kind = "deploy_error"
	KindPromote        Kind = "promote"
	KindRollback       Kind = "rollback"
	KindSlotCleanup    Kind = "slot_cleanup"
	KindHealthChange   Kind = "health_change"
)

// Event is the full domain event shape published on the event fabric.
type Event struct {
	ID          string            `json:"id,omitempty"`
	Kind        Kind              `json:"kind"`
	Project     string            `json:"project"`
	Environment string            `json:"environment"`
	Slot        string            `json:"slot,omitempty"`
	State       string            `json:"state,omitempty"`
	Version     string            `json:"version,omitempty"`
	Message     string            `json:"message,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Channel is a named fan-out destination.
type Channel string

func slotChannel(project, environment string) Channel {
	return Channel("slot." + project + "." + environment)
}

func projectDeployChannel(project string) Channel {
	return Channel("deploy." + project)
}

func projectPromoteChannel(project string) Channel {
	return Channel("promote." + project)
}

func projectRollbackChannel(project string) Channel {
	return Channel("rollback." + project)
}

func projectHealthChannel(project string) Channel {
	return Channel("health." + project)
}

const (
	globalSlotChannel Channel = "slot.global"
	systemChannel     Channel = "system"
)

// ChannelsFor returns every channel e fans out to, per the kind-specific
// table: deploy lifecycle events hit the slot + project-deploy channels
// (start/complete/error additionally hit system); promote and rollback
// hit slot, global slot, their project channel, and system; an unhealthy
// health_change additionally hits system as an alert.
func ChannelsFor(e Event) []Channel {
	slot := slotChannel(e.Project, e.Environment)

	switch e.Kind {
	case KindDeployStart, KindDeployComplete, KindDeployError:
		return []Channel{slot, projectDeployChannel(e.Project), systemChannel}
	case KindDeployProgress:
		return []Channel{slot, projectDeployChannel(e.Project)}
	case KindPromote:
		return []Channel{slot, globalSlotChannel, projectPromoteChannel(e.Project), systemChannel}
	case KindRollback:
		return []Channel{slot, globalSlotChannel, projectRollbackChannel(e.Project), systemChannel}
	case KindHealthChange:
		channels := []Channel{slot, projectHealthChannel(e.Project)}
		if e.State == "unhealthy" {
			channels = append(channels, systemChannel)
		}
		return channels
	case KindSlotCleanup:
		return []Channel{slot, projectDeployChannel(e.Project)}
	default:
		return []Channel{slot}
	}
}
