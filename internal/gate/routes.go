package gate

import (
	"regexp"
	"strings"

	"eaglehurst/platform/internal/models"
)

// Route targets known to the SPA router. The gate only ever hands these
// back as redirect destinations; rendering them is the client's job.
const (
	PathHome                = "/"
	PathLogin               = "/login"
	PathVerifyEmail         = "/verify-email"
	PathProfile             = "/profile"
	PathProfileSubscription = "/profile/subscription"
	PathSubscriptions       = "/subscriptions"
	PathPaymentCallback     = "/payments/callback"
	PathKycUpload           = "/seller/verification"
	PathBuyerDashboard      = "/dashboard/buyer"
	PathSellerDashboard     = "/dashboard/seller"
	PathAdminDashboard      = "/dashboard/admin"
	PathListingNew          = "/listings/new"
)

var listingEditRe = regexp.MustCompile(`^/listings/[^/]+/edit$`)

// DashboardFor maps a role to its default dashboard. Unknown roles land
// on the home page.
func DashboardFor(role models.Role) string {
	switch role {
	case models.RoleSeller:
		return PathSellerDashboard
	case models.RoleBuyer:
		return PathBuyerDashboard
	case models.RoleAdmin:
		return PathAdminDashboard
	default:
		return PathHome
	}
}

// isListingAuthoring reports whether path creates or edits a listing.
// Unverified sellers are barred from these routes specifically.
func isListingAuthoring(path string) bool {
	return path == PathListingNew || listingEditRe.MatchString(path)
}

// isSubscriptionExempt lists the destinations an unsubscribed user may
// still reach: the pages needed to subscribe, manage the profile, or
// complete a payment-provider round trip.
func isSubscriptionExempt(path string) bool {
	if path == PathProfile || path == PathProfileSubscription {
		return true
	}
	if path == PathSubscriptions || strings.HasPrefix(path, PathSubscriptions+"/") {
		return true
	}
	return strings.HasPrefix(path, PathPaymentCallback)
}

// isUnverifiedEmailExempt lists where an unverified account may go.
// Sellers additionally keep access to the KYC upload page so document
// review can start in parallel with email verification.
func isUnverifiedEmailExempt(path string, role models.Role) bool {
	if path == PathVerifyEmail || path == PathProfile {
		return true
	}
	return role == models.RoleSeller && path == PathKycUpload
}
