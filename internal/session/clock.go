package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Refresh fires five minutes before the token expires, but never sooner
	// than one minute from now. A token already inside the lead window still
	// gets a full minute of use before the refresh attempt; that window is
	// the accepted cost of avoiding refresh storms on near-expired tokens.
	refreshLead  = 5 * time.Minute
	refreshFloor = time.Minute
)

// TimeUntilRefresh computes when a proactive refresh of the given bearer
// token should fire. The token's payload is decoded without signature
// verification; only the exp claim matters here. A token that cannot be
// decoded, or that carries no exp, yields ok=false: no refresh is scheduled
// and the credential is treated as having unknown life.
func TimeUntilRefresh(token string, now time.Time) (time.Duration, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}

	refreshIn := exp.Time.Sub(now) - refreshLead
	if refreshIn < refreshFloor {
		refreshIn = refreshFloor
	}
	return refreshIn, true
}
