package rate

import "time"

// Window represents a provider rate-limit bucket.
type Window int

const (
	Minute Window = iota
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

func (w Window) Duration() time.Duration {
	switch w {
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Declaration defines a provider's client-side request budget.
type Declaration struct {
	provider   string
	limits     map[Window]int
	retryAfter string
	cooldown   time.Duration
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name, retryAfter: "Retry-After"}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

// MaxRequestsPer sets a token-bucket budget; a non-positive limit removes the window.
func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	if limit > 0 {
		limits[window] = limit
	} else {
		delete(limits, window)
	}
	d.limits = limits
	return d
}

// CooldownOnThrottle is used when the provider answers 429 without a Retry-After header.
func (d Declaration) CooldownOnThrottle(ttl time.Duration) Declaration {
	d.cooldown = ttl
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) HasLimits() bool {
	return len(d.limits) > 0
}
