// Package dashboard owns one monitoring session: the timeline, the alert
// aggregator, the chat pipeline, the workflow monitor and the live event
// subscription that feeds them.
//
// The session is the only place where components meet. Commit and alert
// events from the stream are handed to the aggregator and the timeline
// independently; chat answers go to the timeline only; the workflow monitor
// is isolated. Closing the session closes the subscription before it
// returns and makes the timeline reject late appends.
package dashboard
