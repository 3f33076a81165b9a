package backtest

// Strategy is a capability record with up to four optional callback
// slots, per the engine spec's "polymorphic strategy hook" design
// note: no inheritance, absence of a slot means no-op.
type Strategy struct {
	OnStart func(ctx *BarContext)
	OnBar   func(ctx *BarContext)
	OnTrade func(ctx *BarContext, fill Fill)
	OnStop  func(ctx *BarContext)
}

func (s Strategy) callStart(ctx *BarContext) {
	if s.OnStart != nil {
		s.OnStart(ctx)
	}
}

func (s Strategy) callBar(ctx *BarContext) {
	if s.OnBar != nil {
		s.OnBar(ctx)
	}
}

func (s Strategy) callTrade(ctx *BarContext, fill Fill) {
	if s.OnTrade != nil {
		s.OnTrade(ctx, fill)
	}
}

func (s Strategy) callStop(ctx *BarContext) {
	if s.OnStop != nil {
		s.OnStop(ctx)
	}
}
