// Package relay maintains the websocket to the speech service.
//
// Outbound, every decoded frame becomes {"user": label, "audio": base64}.
// Inbound, the service sends speak replies and shutdown commands. A dropped
// connection is retried on a fixed interval up to a maximum number of
// attempts; frames produced while the socket is not open are discarded.
package relay
