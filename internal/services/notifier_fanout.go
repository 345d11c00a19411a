package services

// FanoutNotifier delivers each event to every configured sink (NATS,
// websocket push). Sinks are independent; one failing or dropping never
// affects the others.
type FanoutNotifier struct {
	sinks []Notifier
}

// NewFanoutNotifier builds a fan-out over the given sinks. Nil sinks are
// skipped so optional transports can be wired unconditionally.
func NewFanoutNotifier(sinks ...Notifier) *FanoutNotifier {
	f := &FanoutNotifier{}
	for _, sink := range sinks {
		if sink != nil {
			f.sinks = append(f.sinks, sink)
		}
	}
	return f
}

func (f *FanoutNotifier) Notify(event string, recipient string, payload map[string]interface{}) {
	for _, sink := range f.sinks {
		sink.Notify(event, recipient, payload)
	}
}
