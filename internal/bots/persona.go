package bots

// Profile holds the tunable parameters of a rule brain.
type Profile struct {
	Name       string  `json:"name"`
	Aggression float64 `json:"aggression"` // 0.0-1.0: tendency to bet/raise vs check/call
	Tightness  float64 `json:"tightness"`  // 0.0-1.0: hand range width (1.0 = only premiums)
	Bluffing   float64 `json:"bluffing"`   // 0.0-1.0: bluff frequency
	Randomness float64 `json:"randomness"` // 0.0-1.0: decision noise
}

var profiles = map[string]Profile{
	"standard": {Name: "standard", Aggression: 0.5, Tightness: 0.5, Bluffing: 0.2, Randomness: 0.3},
	"tight":    {Name: "tight", Aggression: 0.35, Tightness: 0.8, Bluffing: 0.1, Randomness: 0.15},
	"loose":    {Name: "loose", Aggression: 0.6, Tightness: 0.2, Bluffing: 0.3, Randomness: 0.4},
	"maniac":   {Name: "maniac", Aggression: 0.9, Tightness: 0.1, Bluffing: 0.5, Randomness: 0.5},
}

// ProfileFor resolves a seat's bot_profile, falling back to standard
// for unknown names.
func ProfileFor(name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles["standard"]
}
