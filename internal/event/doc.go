/*
Package event provides a pub/sub event bus for the bridge.

The bus enables decoupled observation of bridge activity: the tool
bridge publishes file.edited and permission.resolved events, the
terminal registry publishes terminal.exited, and the session registry
publishes session lifecycle events. The main command subscribes to all
events for debug logging.

Events are routed through a watermill gochannel pub/sub, one topic per
event type. The envelope is JSON-encoded in transit, so Data arrives at
subscribers as decoded generic values (maps, strings, numbers), not the
publisher's concrete types. Delivery is asynchronous and best-effort:
events published before a subscription exists are not replayed.

Publishing:

	event.Publish(event.Event{
		Type: event.FileEdited,
		Data: event.FileEditedData{SessionID: id, File: path},
	})

Subscribing:

	unsubscribe := event.Subscribe(event.FileEdited, func(e event.Event) {
		log.Debug().Interface("data", e.Data).Msg("file edited")
	})
	defer unsubscribe()

For testing or isolation, create dedicated bus instances with NewBus,
and use Reset to clear global bus state in test cleanup.
*/
package event
