// Package gate decides, for each navigation attempt, whether the
// requested view may render or where to send the user instead. It is a
// pure decision engine: evaluating a request has no side effects and is
// safe to repeat on every render. The checks run in a fixed order and
// the first failing check wins.
package gate

import (
	"time"

	"eaglehurst/platform/internal/models"
)

// Request describes one navigation attempt.
type Request struct {
	Path string
	// AllowedRoles restricts the route to a role subset. Empty means
	// any authenticated role.
	AllowedRoles []models.Role
}

// Session is the viewer's state as known at evaluation time. The role
// comes from the auth token; Profile may lag behind while /auth/me is
// in flight, which ProfileLoaded signals.
type Session struct {
	Authenticated bool
	Role          models.Role
	EmailVerified bool
	ProfileLoaded bool
	Profile       *models.User
}

// Decision is the gate's output. Exactly one of Allow, Wait, or a
// non-empty RedirectTo holds.
type Decision struct {
	Allow      bool
	Wait       bool // profile still loading; re-evaluate once it lands
	RedirectTo string
	ReturnTo   string // original path, preserved on login redirects
}

func allow() Decision                 { return Decision{Allow: true} }
func wait() Decision                  { return Decision{Wait: true} }
func redirect(target string) Decision { return Decision{RedirectTo: target} }

// Evaluate runs the ordered checks for a navigation attempt:
// authentication, role authorization, email verification, subscription
// (skipped for admins), then seller business verification. Ordering is
// deliberate; in particular the subscription check precedes the seller
// verification check.
func Evaluate(req Request, sess Session, now time.Time) Decision {
	// 1. Authentication
	if !sess.Authenticated {
		d := redirect(PathLogin)
		d.ReturnTo = req.Path
		return d
	}

	// 2. Role authorization
	if len(req.AllowedRoles) > 0 && !roleAllowed(sess.Role, req.AllowedRoles) {
		return redirect(DashboardFor(sess.Role))
	}

	// 3. Email verification
	if !sess.EmailVerified && !isUnverifiedEmailExempt(req.Path, sess.Role) {
		return redirect(PathVerifyEmail)
	}

	// 4. Subscription (admins exempt)
	if sess.Role != models.RoleAdmin {
		if !sess.ProfileLoaded {
			return wait()
		}
		var sub *models.Subscription
		if sess.Profile != nil {
			sub = sess.Profile.Subscription
		}
		if !sub.IsActiveAt(now) && !isSubscriptionExempt(req.Path) {
			return redirect(PathSubscriptions)
		}
	}

	// 5. Seller business verification
	if sess.Role == models.RoleSeller && sess.ProfileLoaded {
		var sp *models.SellerProfile
		if sess.Profile != nil {
			sp = sess.Profile.SellerProfile
		}
		if sp == nil {
			if req.Path != PathKycUpload && req.Path != PathProfile {
				return redirect(PathKycUpload)
			}
		} else if sp.VerificationStatus != models.VerificationApproved {
			// Pending or rejected sellers keep their dashboard (which
			// surfaces the status banner) but cannot author listings.
			if isListingAuthoring(req.Path) {
				return redirect(PathSellerDashboard)
			}
		}
	}

	return allow()
}

func roleAllowed(role models.Role, allowed []models.Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
