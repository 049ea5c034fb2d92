package session

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"

	"github.com/GoCodeAlone/azaccount/account"
)

// SubscriptionSource lists the subscriptions visible to a credential.
type SubscriptionSource interface {
	ListSubscriptions(ctx context.Context, cred azcore.TokenCredential) ([]account.Subscription, error)
}

// ARMSubscriptionSource lists subscriptions through the ARM subscriptions API.
type ARMSubscriptionSource struct {
	options *arm.ClientOptions
}

// NewARMSubscriptionSource creates an ARMSubscriptionSource. options may be nil.
func NewARMSubscriptionSource(options *arm.ClientOptions) *ARMSubscriptionSource {
	return &ARMSubscriptionSource{options: options}
}

func (s *ARMSubscriptionSource) ListSubscriptions(ctx context.Context, cred azcore.TokenCredential) ([]account.Subscription, error) {
	client, err := armsubscriptions.NewClient(cred, s.options)
	if err != nil {
		return nil, fmt.Errorf("create subscriptions client: %w", err)
	}
	var out []account.Subscription
	pager := client.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
		for _, sub := range page.Value {
			if sub == nil {
				continue
			}
			out = append(out, account.SubscriptionFromARM(sub))
		}
	}
	return out, nil
}
