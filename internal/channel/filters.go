package channel

import "github.com/coremesh/coremesh/internal/logger"

// DebugLogFilterName is the enable_filters entry that opts a topic into
// NewDebugLogFilter. The filter is strictly opt-in: it is never attached
// unless a topic's enable_filters names it explicitly.
const DebugLogFilterName = "debug_log"

// NewDebugLogFilter logs every envelope that passes through it, then
// continues the chain unconditionally. It never short-circuits and never
// mutates meta, so it is safe to place anywhere in a chain purely for
// observability.
func NewDebugLogFilter(log *logger.Logger) Filter {
	return func(env Envelope, meta map[string]string, next func(Envelope, map[string]string)) {
		if log != nil {
			log.Debug("channel: filter trace",
				logger.String("topic", env.Topic),
				logger.String("msg_type", env.MsgType),
				logger.String("pkg", env.Pkg),
				logger.Int("payload_bytes", len(env.Payload)),
			)
		}
		next(env, meta)
	}
}

// BuiltinFilters returns the name -> constructor map of filters known out
// of the box, keyed the way channel.backends[].type/enable_filters[] name
// things in config. Currently just the debug-log filter; a second backend
// or filter can extend this table without touching ChannelStage.
func BuiltinFilters(log *logger.Logger) map[string]Filter {
	return map[string]Filter{
		DebugLogFilterName: NewDebugLogFilter(log),
	}
}
