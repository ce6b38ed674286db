// Package rpc implements the client side of the device-control server
// protocol used by astrorpc.
//
// The device-control server is a local companion process that owns the
// vendor drivers for cameras, focusers, filter wheels and mounts. This
// package keeps a long-lived TCP session to it, correlates replies with
// requests, and forwards server events to subscribers.
//
// # Architecture
//
//	  Client.Submit ──► queue ──► session ──► socket
//	                                 │
//	  Client.AwaitReply ◄── ResponseTable ◄──┤◄── FrameBuffer ◄── socket
//	  Handler(Event)    ◄── EventBus      ◄──┘
//
// A Manager runs one background goroutine that dials the server, runs a
// session while the connection lives, and dials again after any failure.
// Each Client owns exactly one Manager and one socket.
//
// # Wire Format
//
// Every message is a JSON object followed by a single '\n':
//
//	-> {"method":"focuser_get_absolute_position","id":1}
//	<- {"id":1,"result":{"absolute_position":12000}}
//	<- {"id":2,"error":"focuser not connected"}
//	<- {"event":"Connection"}
//
// Frames carrying an id are replies. Frames with an event name and no id
// are server events. The client also publishes three local events:
// Connected, Disconnected and Response (with the request id).
//
// # Parameter Envelope
//
// Submit merges its parameter map into the top level of the frame as-is.
// The typed helpers (SetValue, Command) and every device adapter use the
// nested envelope:
//
//	{"method":"focuser_move_absolute_position","id":7,"params":{"absolute_position":15000}}
//
// # Reply Retention
//
// A reply that nobody claims is kept for Config.StaleAfter (60s by
// default) and then evicted. Ids are remembered for the same window after
// they are claimed so a retransmitted reply is still dropped.
//
// # Usage
//
//	client := rpc.New(rpc.Config{Port: 8800})
//	client.SetLogger(logger)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	temp, err := client.GetNumber(ctx, "focuser_get_current_temperature", "current_temperature")
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines,
// except FrameBuffer, which belongs to a single session.
package rpc
