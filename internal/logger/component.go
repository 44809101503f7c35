package logger

import "strings"

// Component names one of the driver's four loggable subsystems, grounded on
// spec.md §6's command/topology/server-selection/connection surfaces.
type Component int

const (
	ComponentCommand Component = iota
	ComponentTopology
	ComponentServerSelection
	ComponentConnection
)

const (
	mongoDBLogAllEnvVar            = "MONGODB_LOG_ALL"
	mongoDBLogCommandEnvVar        = "MONGODB_LOG_COMMAND"
	mongoDBLogTopologyEnvVar       = "MONGODB_LOG_TOPOLOGY"
	mongoDBLogServerSelectionEnVar = "MONGODB_LOG_SERVER_SELECTION"
	mongoDBLogConnectionEnvVar     = "MONGODB_LOG_CONNECTION"
)

const (
	levelLiteralOff   = "off"
	levelLiteralInfo  = "info"
	levelLiteralDebug = "debug"
)

// componentEnvVar pairs an environment variable name with the Component it
// configures.
type componentEnvVar string

func (c componentEnvVar) component() Component {
	switch c {
	case mongoDBLogCommandEnvVar:
		return ComponentCommand
	case mongoDBLogTopologyEnvVar:
		return ComponentTopology
	case mongoDBLogServerSelectionEnVar:
		return ComponentServerSelection
	case mongoDBLogConnectionEnvVar:
		return ComponentConnection
	default:
		return ComponentCommand
	}
}

var componentEnvVarAll = componentEnvVar(mongoDBLogAllEnvVar)

var allComponentEnvVars = []componentEnvVar{
	componentEnvVarAll,
	mongoDBLogCommandEnvVar,
	mongoDBLogTopologyEnvVar,
	mongoDBLogServerSelectionEnVar,
	mongoDBLogConnectionEnvVar,
}

func parseLevel(str string) Level {
	switch strings.ToLower(str) {
	case levelLiteralDebug:
		return LevelDebug
	case levelLiteralInfo:
		return LevelInfo
	default:
		return LevelOff
	}
}

// ComponentMessage is satisfied by every structured log event the driver
// emits: the component it belongs to, the human-readable message, and its
// keys-and-values payload for the configured LogSink.
type ComponentMessage interface {
	Component() Component
	Message() string
	Serialize() []interface{}
}

// CommandMessageDropped replaces a ComponentMessage that couldn't be queued
// because the logger's job channel was full, so a slow sink can't silently
// swallow the fact that something was lost.
type CommandMessageDropped struct {
	Name string
}

func (CommandMessageDropped) Component() Component { return ComponentCommand }
func (m CommandMessageDropped) Message() string     { return "Command message dropped" }
func (m CommandMessageDropped) Serialize() []interface{} {
	return []interface{}{"name", m.Name}
}

// CommandStartedMessage mirrors event.CommandStartedEvent in the logger's
// own ComponentMessage shape (spec.md §6 command monitoring).
type CommandStartedMessage struct {
	CommandName  string
	RequestID    int64
	ConnectionID string
	DatabaseName string
	Command      Stringer
}

func (CommandStartedMessage) Component() Component { return ComponentCommand }
func (m CommandStartedMessage) Message() string     { return "Command started" }
func (m CommandStartedMessage) Serialize() []interface{} {
	kv := []interface{}{
		"commandName", m.CommandName,
		"requestId", m.RequestID,
		"driverConnectionId", m.ConnectionID,
		"databaseName", m.DatabaseName,
	}
	if m.Command != nil {
		kv = append(kv, "command", m.Command)
	} else {
		kv = append(kv, "command", "")
	}
	return kv
}
