// Package wsclient provides a resilient WebSocket client for the war room dashboard feeds.
//
// # Features
//
//   - Exponential backoff with jitter and a bounded number of reconnect attempts
//   - Bounded outbound queue, flushed in order once the socket is open again
//   - Application-level heartbeat with optional no-traffic timeout
//   - Topic-keyed subscriber registry with per-handler failure isolation
//   - Tagged-union decoding of inbound frames
//   - Ordered lifecycle events, OpenTelemetry dial spans and pluggable metrics
//
// # Basic Usage
//
//	client, err := wsclient.New("wss://api.example.com/ws/ad-monitor",
//	    wsclient.WithName("ad-monitor"),
//	    wsclient.WithMaxReconnectAttempts(10),
//	    wsclient.WithOnReconnect(func(attempt int) {
//	        log.Printf("reconnecting, attempt %d", attempt)
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	unsubscribe := client.Subscribe("spend_alert", func(m wsclient.Message) error {
//	    alert := m.(*wsclient.SpendAlertMessage).Alert
//	    log.Printf("%s: %s", alert.CampaignName, alert.Message)
//	    return nil
//	})
//	defer unsubscribe()
//
//	_ = client.Connect()
//	_ = client.Send("dismiss_alert", map[string]any{"alert_id": "a-1"})
//
// # State Machine
//
//	Disconnected --Connect()--> Connecting --open--> Connected
//	Connecting/Connected --non-clean close--> Reconnecting --timer--> Connecting
//	any --Disconnect()--> Disconnected
//
// A close with code 1000 from the server ends in Disconnected without reconnecting.
// Once MaxReconnectAttempts automatic attempts have failed the client stays
// Disconnected with ErrMaxReconnectAttempts until Connect is called again.
package wsclient
