// Package mqtt publishes the rewriter's status to an MQTT broker as a
// Home Assistant device: availability, today's task outcome counters,
// the active model, backend and Telegram connectivity, uptime and
// version. It also exposes a "reload config" button.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for each
// entity, a birth message ("online") to the availability topic, and
// re-subscribes to the button's command topic. A will message moves
// the availability topic to "offline" on unexpected disconnects.
package mqtt
