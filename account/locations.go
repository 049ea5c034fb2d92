package account

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
)

// LocationLister lists the regions available to a subscription.
type LocationLister interface {
	ListLocations(ctx context.Context, subscriptionID string) ([]Location, error)
}

// LocationClientFactory builds a LocationLister authorized by cred.
type LocationClientFactory func(cred azcore.TokenCredential) (LocationLister, error)

// ARMLocationClient lists locations through the ARM subscriptions API.
type ARMLocationClient struct {
	client *armsubscriptions.Client
}

// NewARMLocationClient creates an ARMLocationClient. options may be nil.
func NewARMLocationClient(cred azcore.TokenCredential, options *arm.ClientOptions) (*ARMLocationClient, error) {
	client, err := armsubscriptions.NewClient(cred, options)
	if err != nil {
		return nil, fmt.Errorf("create subscriptions client: %w", err)
	}
	return &ARMLocationClient{client: client}, nil
}

// ListLocations drains every page of the list-locations call. Errors from
// the service are returned as the SDK produced them.
func (c *ARMLocationClient) ListLocations(ctx context.Context, subscriptionID string) ([]Location, error) {
	var out []Location
	pager := c.client.NewListLocationsPager(subscriptionID, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, l := range page.Value {
			if l == nil {
				continue
			}
			out = append(out, locationFromARM(l))
		}
	}
	return out, nil
}

func locationFromARM(l *armsubscriptions.Location) Location {
	loc := Location{
		ID:                  deref(l.ID),
		SubscriptionID:      deref(l.SubscriptionID),
		Name:                deref(l.Name),
		DisplayName:         deref(l.DisplayName),
		RegionalDisplayName: deref(l.RegionalDisplayName),
	}
	if m := l.Metadata; m != nil {
		loc.Latitude = deref(m.Latitude)
		loc.Longitude = deref(m.Longitude)
		if m.RegionType != nil {
			loc.RegionType = string(*m.RegionType)
		}
	}
	return loc
}

// SubscriptionFromARM converts an ARM subscription record to the
// normalized view.
func SubscriptionFromARM(s *armsubscriptions.Subscription) Subscription {
	if s == nil {
		return Subscription{}
	}
	sub := Subscription{
		ID:                  deref(s.ID),
		SubscriptionID:      deref(s.SubscriptionID),
		TenantID:            deref(s.TenantID),
		DisplayName:         deref(s.DisplayName),
		AuthorizationSource: deref(s.AuthorizationSource),
	}
	if s.State != nil {
		sub.State = string(*s.State)
	}
	if p := s.SubscriptionPolicies; p != nil {
		sub.SubscriptionPolicies = &SubscriptionPolicies{
			LocationPlacementID: deref(p.LocationPlacementID),
			QuotaID:             deref(p.QuotaID),
		}
		if p.SpendingLimit != nil {
			sub.SubscriptionPolicies.SpendingLimit = string(*p.SpendingLimit)
		}
	}
	return sub
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
