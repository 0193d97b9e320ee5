package detection

import (
	"github.com/shopspring/decimal"

	"github.com/mbd888/sentinel/internal/config"
)

// Defaults for accounts without a profile, or profiles missing a field.
const (
	DefaultHomeLat          = 19.0760
	DefaultHomeLon          = 72.8777
	DefaultTypicalMaxAmount = 50000
)

// Profile is an account's resolved home location and typical spend.
type Profile struct {
	HomeLat          float64
	HomeLon          float64
	TypicalMaxAmount decimal.Decimal
	Known            bool
}

// Profiles resolves account profiles with defaults filled in.
type Profiles struct {
	accounts map[string]Profile
}

// NewProfiles builds a lookup from the engine document's profiles.
func NewProfiles(src map[string]config.UserProfile) Profiles {
	p := Profiles{accounts: make(map[string]Profile, len(src))}
	for id, up := range src {
		prof := Profile{
			HomeLat:          DefaultHomeLat,
			HomeLon:          DefaultHomeLon,
			TypicalMaxAmount: decimal.NewFromInt(DefaultTypicalMaxAmount),
			Known:            true,
		}
		if up.HomeLat != nil {
			prof.HomeLat = *up.HomeLat
		}
		if up.HomeLon != nil {
			prof.HomeLon = *up.HomeLon
		}
		if up.TypicalMaxAmount != nil {
			prof.TypicalMaxAmount = decimal.NewFromFloat(*up.TypicalMaxAmount)
		}
		p.accounts[id] = prof
	}
	return p
}

// Lookup returns the profile for account, or the defaults with Known unset.
func (p Profiles) Lookup(account string) Profile {
	if prof, ok := p.accounts[account]; ok {
		return prof
	}
	return Profile{
		HomeLat:          DefaultHomeLat,
		HomeLon:          DefaultHomeLon,
		TypicalMaxAmount: decimal.NewFromInt(DefaultTypicalMaxAmount),
	}
}

// Len is the number of configured profiles.
func (p Profiles) Len() int { return len(p.accounts) }
