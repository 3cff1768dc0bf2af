// Package eventbus is the in-process publish/subscribe hub of homecore.
//
// Components communicate by firing typed events and registering listeners.
// Delivery is synchronous: Fire returns after every matching listener has
// run. Listeners registered with MatchAll see every event.
//
// Failure isolation: a listener that errors or panics is logged and skipped;
// the remaining listeners still run and the firer never sees the failure.
//
// Usage:
//
//	bus := eventbus.New(eventbus.WithLogger(logger))
//	sub := bus.Listen(eventbus.EventStateChanged, func(ctx context.Context, e eventbus.Event) error {
//	    logger.Info("changed", "data", e.Data)
//	    return nil
//	})
//	defer bus.RemoveListener(sub)
//
//	bus.Fire(ctx, eventbus.EventHomeStart, nil)
package eventbus
