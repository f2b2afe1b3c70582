// Package mqtt mirrors Kyle's operational event bus to an MQTT broker.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained "online" birth message to
// <prefix>/availability; a will message flips that topic to "offline"
// on unexpected disconnects. Every bus event is published as JSON to
// <prefix>/events/<source>/<kind>, and a small set of retained state
// topics (uptime, version, tokens today) is refreshed periodically.
package mqtt
