// Package notifier delivers reminder messages to chats through a transport
// adapter. Deliveries are synchronous so the caller learns whether the
// message went out; they are rate limited with a token bucket and carry
// optional Done/Snooze inline controls.
package notifier
