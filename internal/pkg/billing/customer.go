package billing

import (
	"context"
	"fmt"
	"strconv"
)

// CustomerResolver maps internal users to billing-provider customers,
// creating the provider record on first use and persisting the mapping.
type CustomerResolver struct {
	ledger  *Ledger
	gateway PaymentGateway
}

// NewCustomerResolver wires a resolver from its dependencies.
func NewCustomerResolver(ledger *Ledger, gateway PaymentGateway) *CustomerResolver {
	return &CustomerResolver{ledger: ledger, gateway: gateway}
}

// Resolve returns the provider customer id for a user, creating one if
// the user has never been charged. Concurrent calls for the same user
// cannot create duplicate provider customers: the create call carries
// an idempotency key derived from the user id, and the persisted id is
// written conditionally and re-read when another resolver won the race.
func (r *CustomerResolver) Resolve(ctx context.Context, userID uint) (string, error) {
	user, err := r.ledger.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	customerID, err := r.gateway.CreateCustomer(ctx, CreateCustomerInput{
		Email:          user.Email,
		Name:           user.Name,
		UserID:         strconv.FormatUint(uint64(user.ID), 10),
		IdempotencyKey: customerIdempotencyKey(user.ID),
	})
	if err != nil {
		return "", fmt.Errorf("create billing customer for user %d: %w", user.ID, err)
	}

	stored, err := r.ledger.SetStripeCustomerID(ctx, user.ID, customerID)
	if err != nil {
		return "", err
	}
	if stored {
		return customerID, nil
	}

	// Another resolver persisted first; its id is authoritative. The
	// idempotency key means both create calls named the same provider
	// customer anyway.
	user, err = r.ledger.GetUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}
	return customerID, nil
}

func customerIdempotencyKey(userID uint) string {
	return "customer-create-user-" + strconv.FormatUint(uint64(userID), 10)
}
