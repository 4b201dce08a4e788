package billing

import "errors"

// Failure taxonomy for the billing pipeline. Callers branch with
// errors.Is; everything else wraps one of these sentinels.
var (
	// ErrAuthenticationFailed means the webhook signature did not verify.
	// The request is rejected before any payload parsing or ledger write.
	ErrAuthenticationFailed = errors.New("webhook signature verification failed")

	// ErrUserNotFound / ErrProductNotFound / ErrOrderNotFound /
	// ErrSubscriptionNotFound mean a referenced entity does not exist.
	ErrUserNotFound         = errors.New("user not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrProviderRejected means the billing or accounting provider
	// declined the request (bad params, card declined). Not retryable.
	ErrProviderRejected = errors.New("provider rejected the request")

	// ErrTransient covers network failures, timeouts and rate limits
	// from either provider. Safe to retry.
	ErrTransient = errors.New("transient provider error")

	// ErrInvoiceAlreadyAttached guards against double-invoicing: an
	// invoice id is already present and differs from the one being set.
	ErrInvoiceAlreadyAttached = errors.New("a different invoice is already attached")

	// ErrUnresolvableEvent marks a webhook event whose correlation
	// metadata never matched a ledger row within the retry bound.
	ErrUnresolvableEvent = errors.New("webhook event could not be resolved to a ledger row")
)
