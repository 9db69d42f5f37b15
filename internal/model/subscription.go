package model

// SubscriptionStatus is the lifecycle state of a realtime channel
// subscription.
type SubscriptionStatus string

const (
	SubscriptionIdle        SubscriptionStatus = "idle"
	SubscriptionSubscribing SubscriptionStatus = "subscribing"
	SubscriptionSubscribed  SubscriptionStatus = "subscribed"
	SubscriptionClosed      SubscriptionStatus = "closed"
)
